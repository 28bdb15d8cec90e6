package service

import "path/filepath"

// ServicePaths resolves the on-disk layout under a workdir. Everything the
// tool persists lives below <workdir>/.hlsrelay so a single rm -rf resets it.
type ServicePaths struct {
	WorkDir    string // workdir the tool was started in
	RelayDir   string // <workdir>/.hlsrelay
	ServiceDir string // daemon runtime state
	ConfigPath string // persisted configuration
	SocketPath string // unix socket the daemon listens on
	PIDPath    string // lock file holding the daemon pid
	LogPath    string // daemon log file
	ArchiveDir string // encrypted flow archive, when enabled
}

// NewServicePaths builds the standard layout rooted at workDir.
func NewServicePaths(workDir string) ServicePaths {
	relayDir := filepath.Join(workDir, ".hlsrelay")
	serviceDir := filepath.Join(relayDir, "service")
	return ServicePaths{
		WorkDir:    workDir,
		RelayDir:   relayDir,
		ServiceDir: serviceDir,
		ConfigPath: filepath.Join(relayDir, "config.json"),
		SocketPath: filepath.Join(serviceDir, "daemon.sock"),
		PIDPath:    filepath.Join(serviceDir, "daemon.pid"),
		LogPath:    filepath.Join(serviceDir, "log.txt"),
		ArchiveDir: filepath.Join(serviceDir, "archive"),
	}
}
