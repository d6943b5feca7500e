package config

const (
	defaultCatalogDir            = "~/.local/share/diskwatch"
	defaultLogDir                = "~/.local/share/diskwatch/logs"
	defaultMaxScanWorkers        = 2
	defaultProgressTickFiles     = 200
	defaultDiscoveryPollInterval = 10
	defaultUsageEventThreshold   = 100
	defaultUsageRefreshInterval  = 300
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

func defaultDiscoveryRoots() []string {
	return []string{"/mnt", "/media", "/run/media"}
}

func defaultIgnoreSuffixes() []string {
	return []string{".lock", ".tmp", ".swp", ".swx", "~"}
}

func defaultIgnoreNames() []string {
	return []string{".DS_Store", "Thumbs.db"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CatalogDir: defaultCatalogDir,
			LogDir:     defaultLogDir,
		},
		Scan: Scan{
			MaxWorkers:        defaultMaxScanWorkers,
			AutoScan:          true,
			ProgressTickFiles: defaultProgressTickFiles,
		},
		Discovery: Discovery{
			Roots:        defaultDiscoveryRoots(),
			PollInterval: defaultDiscoveryPollInterval,
		},
		Usage: Usage{
			RefreshEventThreshold: defaultUsageEventThreshold,
			RefreshIntervalSecs:   defaultUsageRefreshInterval,
		},
		Ignore: Ignore{
			Suffixes: defaultIgnoreSuffixes(),
			Names:    defaultIgnoreNames(),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
