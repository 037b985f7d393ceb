// Package system installs the generated artifact and flushes DNS caches.
// Thin glue around external commands; the build pipeline never depends on
// anything here.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"hostsmgr/internal/backup"
	"hostsmgr/internal/profile"
)

const systemHostsFile = "/etc/hosts"

// Installer copies the generated hosts file into place and knows how to
// poke the usual DNS caching services afterwards.
type Installer struct {
	log *slog.Logger
	run func(ctx context.Context, name string, args ...string) error
}

// New creates an Installer.
func New(log *slog.Logger) *Installer {
	return &Installer{
		log: log,
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

// Install copies the profile's generated hosts file over the system hosts
// file, backing the system file up first when the profile asks for it.
// Requires sudo access.
func (i *Installer) Install(ctx context.Context, prof *profile.Profile) error {
	if _, err := os.Stat(prof.HostsFile); err != nil {
		return fmt.Errorf("there does not seem to be a generated hosts file: %w", err)
	}

	if prof.Settings.BackupSystemHosts {
		i.log.Info("backing up the system hosts file")
		if err := backup.Keep(systemHostsFile, prof.BackupsDir, "system-hosts",
			prof.Settings.MaxBackupsToKeep); err != nil {
			i.log.Error("back up system hosts", "error", err)
		}
	}

	i.log.Info("installing the hosts file requires administrative privileges")
	if err := i.run(ctx, "sudo", "cp", prof.HostsFile, systemHostsFile); err != nil {
		return fmt.Errorf("install hosts file: %w", err)
	}
	i.log.Info("hosts file successfully installed")
	return nil
}

// FlushDNSCache restarts whichever DNS caching service is present so the
// new hosts file takes effect. Every probe is best-effort.
func (i *Installer) FlushDNSCache(ctx context.Context) error {
	i.log.Info("flushing the DNS cache requires administrative privileges")
	found := false

	for _, script := range []string{"/etc/init.d/nscd", "/etc/rc.d/init.d/nscd"} {
		if !fileExists(script) {
			continue
		}
		found = true
		i.restart(ctx, "nscd", "sudo", script, "restart")
	}

	for _, prefix := range []string{"/usr", ""} {
		systemctl := prefix + "/bin/systemctl"
		unitDir := prefix + "/lib/systemd/system"
		for _, svc := range []string{"NetworkManager", "wicd", "dnsmasq", "networking"} {
			unit := svc + ".service"
			if !fileExists(filepath.Join(unitDir, unit)) {
				continue
			}
			found = true
			i.restart(ctx, unit, "sudo", systemctl, "restart", unit)
		}
	}

	if script := "/etc/init.d/dns-clean"; fileExists(script) {
		found = true
		i.restart(ctx, "dns-clean", "sudo", script, "start")
	}

	if !found {
		i.log.Warn("unable to determine DNS management tool")
	}
	return nil
}

func (i *Installer) restart(ctx context.Context, what, name string, args ...string) {
	if err := i.run(ctx, name, args...); err != nil {
		i.log.Error("flush DNS cache", "service", what, "error", err)
		return
	}
	i.log.Info("DNS cache flushed", "service", what)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
