package assets

// Registry lists embedded assets available at runtime.
// Update this when adding/removing curated assets.

type AssetInfo struct {
	Family  string // schema | template | policy
	Name    string // registry key
	Version string
	Path    string // path relative to its embed root
}

var Registry = []AssetInfo{
	{Family: "schema", Name: "contract-v1", Version: "v1", Path: "reface/contract-v1.yaml"},
	{Family: "schema", Name: "ledger-v1", Version: "v1", Path: "reface/ledger-v1.yaml"},
	{Family: "template", Name: "commit-message", Version: "v1", Path: "commit-message.hbs"},
	{Family: "policy", Name: "path-policy-example", Version: "v1", Path: "path-policy.rego"},
}

// Lookup returns the registry entry for name.
func Lookup(name string) (AssetInfo, bool) {
	for _, a := range Registry {
		if a.Name == name {
			return a, true
		}
	}
	return AssetInfo{}, false
}
