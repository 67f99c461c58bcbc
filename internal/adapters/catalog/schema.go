package catalog

// schema creates the dataset table and its R*Tree spatial index. Each
// datasets row has a datasets_rtree row with the same id.
const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT    NOT NULL UNIQUE,
	archive        TEXT    NOT NULL,
	uri            TEXT    NOT NULL,
	provider       TEXT    NOT NULL,
	north          REAL    NOT NULL,
	west           REAL    NOT NULL,
	south          REAL    NOT NULL,
	east           REAL    NOT NULL,
	min_resolution REAL    NOT NULL,
	max_resolution REAL    NOT NULL,
	srid           INTEGER NOT NULL,
	visible        INTEGER NOT NULL DEFAULT 1,
	extras         TEXT    NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS datasets_archive ON datasets (archive);

CREATE VIRTUAL TABLE IF NOT EXISTS datasets_rtree USING rtree (
	id,
	min_x, max_x,
	min_y, max_y
);
`

const datasetColumns = `d.name, d.uri, d.provider, d.north, d.west, d.south, d.east,
	d.min_resolution, d.max_resolution, d.srid, d.visible, d.extras`
