package database

const schema = `
CREATE TABLE IF NOT EXISTS assets (
    account_id TEXT NOT NULL,
    id TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'asset',
    title TEXT NOT NULL DEFAULT '',
    sizes TEXT NOT NULL DEFAULT '',
    image TEXT NOT NULL DEFAULT '{}',
    cover TEXT NOT NULL DEFAULT '{}',
    created DATETIME NOT NULL,
    updated DATETIME NOT NULL,
    PRIMARY KEY (account_id, id)
);

CREATE INDEX IF NOT EXISTS idx_assets_created ON assets (account_id, created);
`
