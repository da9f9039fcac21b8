package pathpolicy

// DefaultAllow lists the paths a mutation may touch when no allow list is configured.
var DefaultAllow = []string{
	"src/**", "lib/**", "utils/**", "app/**", "components/**",
	"projects/**",
	"**/*.py", "**/*.js", "**/*.ts", "**/*.jsx", "**/*.tsx",
	"**/*.java", "**/*.go", "**/*.rs", "**/*.php", "**/*.rb",
	"**/*.css", "**/*.scss", "**/*.html", "**/*.vue", "**/*.svelte",
	"tests/**", "test/**", "__tests__/**", "spec/**",
	"docs/**", "documentation/**",
	"**/*.md", "**/*.txt", "**/*.rst", "**/*.yml", "**/*.yaml", "**/*.json",
	"LICENSE*", "README*", "CHANGELOG*", "CONTRIBUTING*",
	"**/package.json", "**/requirements.txt", "**/Cargo.toml", "**/go.mod",
}

// DefaultDeny lists paths that are never mutated, regardless of the allow list.
var DefaultDeny = []string{
	".github/**", ".git/**", "infra/**", "infrastructure/**",
	"deploy/**", "deployment/**", "k8s/**", "terraform/**",
	"**/*.env", "**/.env", "**/.env.*", "**/secrets/**", "**/secret/**",
	"**/id_rsa*", "**/*.key", "**/*.pem", "**/*.p12", "**/*.jks",
	"ssh/*", "**/ssh/**", ".aws/**", "config/secrets/**",
	"**/credentials*", "**/*credential*", "**/token*",
	"**/docker-compose*.yml", "**/Dockerfile*", "**/*.dockerfile",
	"node_modules/**", "vendor/**", "venv/**", "__pycache__/**",
	"**/*.log", "logs/**", "tmp/**", "temp/**",
}
