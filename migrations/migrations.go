// Package migrations embeds the SQL schema so tests and tooling can apply it
// without a filesystem dependency on the repo layout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Statements returns the schema files in apply order.
func Statements() ([]string, error) {
	entries, err := FS.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		raw, err := FS.ReadFile(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, string(raw))
	}
	return out, nil
}
