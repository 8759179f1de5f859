package gpkg

import "fmt"

const layerStylesCreateSQL = `
CREATE TABLE IF NOT EXISTS layer_styles (
    id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
    f_table_catalog TEXT(256),
    f_table_schema TEXT(256),
    f_table_name TEXT(256),
    f_geometry_column TEXT(256),
    styleName TEXT(30),
    styleQML TEXT,
    styleSLD TEXT,
    useAsDefault BOOLEAN,
    description TEXT,
    owner TEXT(30),
    ui TEXT(30),
    update_time DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

const layerStylesInsertSQL = `
INSERT OR REPLACE INTO layer_styles (
    f_table_catalog,
    f_table_schema,
    f_table_name,
    f_geometry_column,
    styleName,
    styleQML,
    styleSLD,
    useAsDefault,
    description,
    owner
)
VALUES ('', '', (?), 'geom', 'Style', (?), '', true, '', '')`

// AddStyles writes QGIS layer styles into the file's layer_styles table,
// keyed by layer name, each value a QML style document. The table is created
// on first use and registered as an attributes layer in gpkg_contents.
func (f *File) AddStyles(styles map[string]string) error {
	tx, err := f.db.Begin()
	if err != nil {
		return fmt.Errorf("adding layer styles: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(layerStylesCreateSQL); err != nil {
		return fmt.Errorf("creating layer_styles table: %w", err)
	}
	for layer, qml := range styles {
		if _, err := tx.Exec(layerStylesInsertSQL, layer, qml); err != nil {
			return fmt.Errorf("inserting style for layer %s: %w", layer, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO gpkg_contents (table_name, data_type, identifier, description, srs_id)
		 VALUES ('layer_styles', 'attributes', 'layer_styles', '', 0)`); err != nil {
		return fmt.Errorf("registering layer_styles: %w", err)
	}
	return tx.Commit()
}
