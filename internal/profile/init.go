package profile

import (
	"fmt"
	"os"
	"path/filepath"
)

const confTemplate = `# hostsmgr profile configuration.
#
# settings are optional; the values below are the defaults.
settings:
  target_ip: "0.0.0.0"
  keep_domain_comments: false
  skip_static_hosts: false
  custom_static_hosts: ""
  backup_old_generated_hosts: true
  backup_system_hosts: true
  max_backups_to_keep: 10

# Every source needs a unique name and a url. Optional keys: frequency
# (daily|weekly|monthly|semestrial, default monthly), is_whitelist,
# pre_processors (url_parser, json_array), unzip_prog + unzip_target
# (+ untar_arg for tar) for compressed payloads.
sources:
  - name: MVPS hosts file
    url: http://winhelp2002.mvps.org/hosts.txt
    frequency: monthly
`

// Init scaffolds a new profile directory with a template configuration
// file. It refuses to touch an existing profile.
func Init(dataDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no profile name provided")
	}
	dir := filepath.Join(dataDir, "profiles", name)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("profile %q already exists, choose a different name", name)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create profile directory: %w", err)
	}
	confPath := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(confPath, []byte(confTemplate), 0o640); err != nil {
		return "", fmt.Errorf("write profile template: %w", err)
	}
	for _, f := range []string{"whitelist", "blacklist"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o640); err != nil {
			return "", fmt.Errorf("write profile %s: %w", f, err)
		}
	}
	return dir, nil
}
