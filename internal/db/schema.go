package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS source SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS type ON source TYPE string ASSERT $value IN ["file", "url"];
    DEFINE FIELD IF NOT EXISTS name ON source TYPE string;
    DEFINE FIELD IF NOT EXISTS url ON source TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON source TYPE datetime DEFAULT time::now() READONLY;

    DEFINE INDEX IF NOT EXISTS source_created_at ON source FIELDS created_at;
    DEFINE INDEX IF NOT EXISTS source_type ON source FIELDS type;
`
