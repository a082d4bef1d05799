package typingdb

import (
	"encoding/json"
	"fmt"
	"os"
)

// builtinDatabases lists the publicly known BIGSdb deployments. An operator
// can replace the set with a JSON registry file, e.g. to point at a mirror.
var builtinDatabases = []Database{
	{ID: "pubmlst", Name: "PubMLST", BaseURL: "https://rest.pubmlst.org", Provider: "bigsdb"},
	{ID: "pasteur", Name: "Institut Pasteur BIGSdb", BaseURL: "https://bigsdb.pasteur.fr/api", Provider: "bigsdb"},
}

// BuiltinDatabases returns a copy of the compiled-in registry.
func BuiltinDatabases() []Database {
	return append([]Database(nil), builtinDatabases...)
}

// LoadRegistry reads the database registry. An empty path selects the
// compiled-in set. Malformed registry data is fatal at startup by design, so
// errors here should abort process boot.
func LoadRegistry(path string) ([]Database, error) {
	if path == "" {
		return BuiltinDatabases(), nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	var databases []Database
	if err := json.Unmarshal(payload, &databases); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if err := validateRegistry(databases); err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return databases, nil
}

func validateRegistry(databases []Database) error {
	if len(databases) == 0 {
		return fmt.Errorf("no databases defined")
	}
	seen := make(map[string]struct{}, len(databases))
	for _, db := range databases {
		if db.ID == "" || db.BaseURL == "" || db.Provider == "" {
			return fmt.Errorf("database %+v: id, base_url, and provider are required", db)
		}
		if _, dup := seen[db.ID]; dup {
			return fmt.Errorf("duplicate database id %q", db.ID)
		}
		seen[db.ID] = struct{}{}
	}
	return nil
}
