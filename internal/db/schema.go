package db

// SchemaSQL contains the database schema initialization SQL.
// Record ids for hierarchy tables are derived from the natural keys, so the
// UNIQUE indexes double as the concurrency control for insert-or-fetch.
const SchemaSQL = `
    -- ==========================================================================
    -- APPLICATION TABLE (editor/agent host, unique by platform+path)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS application SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON application TYPE string;
    DEFINE FIELD IF NOT EXISTS path ON application TYPE string;
    DEFINE FIELD IF NOT EXISTS platform ON application TYPE string;
    DEFINE FIELD IF NOT EXISTS parser ON application TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON application TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS application_identity ON application FIELDS platform, path UNIQUE;

    -- ==========================================================================
    -- MACHINE TABLE (unique by hostname)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS machine SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS hostname ON machine TYPE string;
    DEFINE FIELD IF NOT EXISTS username ON machine TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS os_type ON machine TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS first_seen_at ON machine TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS machine_hostname ON machine FIELDS hostname UNIQUE;

    -- ==========================================================================
    -- WORKSPACE TABLE (unique by the editor-reported workspace reference)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS workspace SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS workspace_ref ON workspace TYPE string;
    DEFINE FIELD IF NOT EXISTS application ON workspace TYPE record<application>;
    DEFINE FIELD IF NOT EXISTS machine ON workspace TYPE record<machine>;
    DEFINE FIELD IF NOT EXISTS project ON workspace TYPE option<record>;
    DEFINE FIELD IF NOT EXISTS path ON workspace TYPE string;
    DEFINE FIELD IF NOT EXISTS repo_url ON workspace TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON workspace TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS last_seen_at ON workspace TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS workspace_ref_idx ON workspace FIELDS workspace_ref UNIQUE;

    -- ==========================================================================
    -- SESSION TABLE (unique by workspace + external session id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS workspace ON session TYPE record<workspace>;
    DEFINE FIELD IF NOT EXISTS external_session_id ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS agent_type ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS model_id ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON session TYPE datetime;
    DEFINE FIELD IF NOT EXISTS ended_at ON session TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS message_count ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total_tokens ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS status ON session TYPE string DEFAULT "active";
    DEFINE FIELD IF NOT EXISTS outcome ON session TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS session_identity ON session FIELDS workspace, external_session_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS session_status ON session FIELDS status;
    DEFINE INDEX IF NOT EXISTS session_started ON session FIELDS started_at;

    -- ==========================================================================
    -- TURN + MESSAGE TABLES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS turn SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session ON turn TYPE record<session>;
    DEFINE FIELD IF NOT EXISTS status ON turn TYPE string DEFAULT "completed";
    DEFINE FIELD IF NOT EXISTS started_at ON turn TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completed_at ON turn TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS turn_session ON turn FIELDS session;

    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS turn ON message TYPE record<turn>;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON message TYPE datetime;
    DEFINE FIELD IF NOT EXISTS metadata ON message TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS message_turn ON message FIELDS turn;

    -- ==========================================================================
    -- AGENT_EVENT TABLE (append-only; event_id is the dedup key)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS agent_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS event_id ON agent_event TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON agent_event TYPE datetime;
    DEFINE FIELD IF NOT EXISTS event_type ON agent_event TYPE string;
    DEFINE FIELD IF NOT EXISTS agent_id ON agent_event TYPE string;
    DEFINE FIELD IF NOT EXISTS session_id ON agent_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS project_id ON agent_event TYPE string;
    DEFINE FIELD IF NOT EXISTS context ON agent_event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS data ON agent_event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS metrics ON agent_event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS parent_event_id ON agent_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS severity ON agent_event TYPE string DEFAULT "info";

    DEFINE INDEX IF NOT EXISTS agent_event_id ON agent_event FIELDS event_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS agent_event_project ON agent_event FIELDS project_id;
    DEFINE INDEX IF NOT EXISTS agent_event_session ON agent_event FIELDS session_id;
    DEFINE INDEX IF NOT EXISTS agent_event_time ON agent_event FIELDS timestamp;

    -- ==========================================================================
    -- INGEST_RUN TABLE (progress persistence for chat imports)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON ingest_run TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS total_sessions ON ingest_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processed_sessions ON ingest_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_sessions ON ingest_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS errors ON ingest_run TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS started_at ON ingest_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS finished_at ON ingest_run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS ingest_run_started ON ingest_run FIELDS started_at;
`
