// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ConfigFile is the name of the configuration file under the base path.
const ConfigFile = "config.toml"

var configTemplate = template.Must(template.New("config").Parse(defaultConfigTemplate))

const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# Directory holding the configuration, the artifact cache and the compiled code
base-path = "{{ .BasePath }}"

# Global log level: crit, eror, warn, info, dbug or trce
log-level = "{{ .LogLevel }}"

# Listen address of the metrics server
metrics-address = "{{ .MetricsAddress }}"

# Publish metrics to prometheus
publish-metrics = {{ .PublishMetrics }}

#######################################################
###           PVF Host Configuration Options        ###
#######################################################
[pvf]

# Workers compiling code for background prechecks and heads ups
prepare-workers-soft = {{ .PVF.PrepareWorkersSoft }}

# Workers compiling code needed by a waiting execution
prepare-workers-hard = {{ .PVF.PrepareWorkersHard }}

execute-workers = {{ .PVF.ExecuteWorkers }}
prepare-queue-capacity = {{ .PVF.PrepareQueueCapacity }}
execute-queue-capacity = {{ .PVF.ExecuteQueueCapacity }}

# Execute requests in flight before new ones are rejected as busy
max-outstanding = {{ .PVF.MaxOutstanding }}

# Recycle a worker after this many jobs, 0 never recycles
max-jobs-per-worker = {{ .PVF.MaxJobsPerWorker }}

# Consecutive higher priority executions after which the oldest lower priority one runs
max-consecutive-high-priority = {{ .PVF.MaxConsecutiveHighPriority }}

precheck-timeout = "{{ .PVF.PrecheckTimeout }}"
prepare-timeout = "{{ .PVF.PrepareTimeout }}"
backing-timeout = "{{ .PVF.BackingTimeout }}"
approval-timeout = "{{ .PVF.ApprovalTimeout }}"
wall-clock-factor = {{ .PVF.WallClockFactor }}
hard-timeout-factor = {{ .PVF.HardTimeoutFactor }}

max-execute-retries = {{ .PVF.MaxExecuteRetries }}
max-prepare-retries = {{ .PVF.MaxPrepareRetries }}
failure-cooldown = "{{ .PVF.FailureCooldown }}"

# Artifact cache limits, 0 for unlimited
cache-max-size = {{ .PVF.CacheMaxSize }}
cache-max-count = {{ .PVF.CacheMaxCount }}
cache-unused-ttl = "{{ .PVF.CacheUnusedTTL }}"
prune-interval = "{{ .PVF.PruneInterval }}"

pov-bomb-limit = {{ .PVF.PoVBombLimit }}
code-bomb-limit = {{ .PVF.CodeBombLimit }}
default-memory-pages = {{ .PVF.DefaultMemoryPages }}

handshake-timeout = "{{ .PVF.HandshakeTimeout }}"
heartbeat-interval = "{{ .PVF.HeartbeatInterval }}"
heartbeat-timeout = "{{ .PVF.HeartbeatTimeout }}"

#######################################################
###         Sandbox Configuration Options           ###
#######################################################
[sandbox]

# off, best-effort or required
namespaces = "{{ .Sandbox.Namespaces }}"
landlock = "{{ .Sandbox.Landlock }}"
seccomp = "{{ .Sandbox.Seccomp }}"

# Resident memory limits in bytes, 0 disables them
prepare-max-memory = {{ .Sandbox.PrepareMaxMemory }}
execute-max-memory = {{ .Sandbox.ExecuteMaxMemory }}

max-open-files = {{ .Sandbox.MaxOpenFiles }}

# CPU time a worker process may use before the kernel kills it, 0 disables it
cpu-limit = "{{ .Sandbox.CPULimit }}"

#######################################################
###         Pprof Configuration Options             ###
#######################################################
[pprof]

enabled = {{ .Pprof.Enabled }}
listening-address = "{{ .Pprof.ListeningAddress }}"
block-profile-rate = {{ .Pprof.BlockProfileRate }}
mutex-profile-rate = {{ .Pprof.MutexProfileRate }}
`

// EnsureRoot creates the base path directories and writes the config file
// if it does not exist yet.
func EnsureRoot(basePath string, config *Config) error {
	for _, dir := range []string{basePath, config.ArtifactsDir(), config.CompiledDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configFilePath := filepath.Join(basePath, ConfigFile)
	if _, err := os.Stat(configFilePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config file: %w", err)
	}
	return WriteConfigFile(configFilePath, config)
}

// WriteConfigFile renders the configuration to a TOML file.
func WriteConfigFile(path string, config *Config) error {
	var buffer bytes.Buffer
	if err := configTemplate.Execute(&buffer, config); err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
