// Package config loads runtime configuration from config files and the
// environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/openloop-ai/openloop/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/openloop/)
// 2. Project config (<directory>/openloop.json[c], <directory>/.openloop/)
// 3. OPENLOOP_CONFIG file
// 4. Environment variables
//
// A .env file in the working directory is loaded first so that {env:VAR}
// interpolation and env overrides see it.
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "openloop.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "openloop.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".openloop")
		loadOnce(filepath.Join(directory, "openloop.json"), directory)
		loadOnce(filepath.Join(directory, "openloop.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "openloop.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "openloop.jsonc"), projectConfigDir)
	}

	// 3. OPENLOOP_CONFIG file override
	if configPath := os.Getenv("OPENLOOP_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	if config.WorkDir == "" {
		config.WorkDir = directory
	}
	config.Runtime.Normalize()

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		relPath := filePattern.FindStringSubmatch(match)[1]
		path := relPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(content))
	})

	return []byte(str)
}

// mergeConfig overlays src onto dst; non-zero src fields win.
func mergeConfig(dst, src *types.Config) {
	if src.WorkDir != "" {
		dst.WorkDir = src.WorkDir
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Runtime.ModelLimit != 0 {
		dst.Runtime.ModelLimit = src.Runtime.ModelLimit
	}
	if src.Runtime.CompactThreshold != 0 {
		dst.Runtime.CompactThreshold = src.Runtime.CompactThreshold
	}
	if src.Runtime.KeepRecentTurns != 0 {
		dst.Runtime.KeepRecentTurns = src.Runtime.KeepRecentTurns
	}
	if src.Runtime.DisableCompaction {
		dst.Runtime.DisableCompaction = true
	}
	if src.Runtime.Dehydrate {
		dst.Runtime.Dehydrate = true
	}
	if src.Runtime.ToolBudget != 0 {
		dst.Runtime.ToolBudget = src.Runtime.ToolBudget
	}
	if src.Runtime.AutoContinueLimit != 0 {
		dst.Runtime.AutoContinueLimit = src.Runtime.AutoContinueLimit
	}
	if src.Runtime.Autonomous {
		dst.Runtime.Autonomous = true
	}
	if src.Runtime.FinalOutputTool != "" {
		dst.Runtime.FinalOutputTool = src.Runtime.FinalOutputTool
	}
	if src.Model.BaseURL != "" {
		dst.Model.BaseURL = src.Model.BaseURL
	}
	if src.Model.APIKey != "" {
		dst.Model.APIKey = src.Model.APIKey
	}
	if src.Model.APIKeyEnv != "" {
		dst.Model.APIKeyEnv = src.Model.APIKeyEnv
	}
	if src.Model.Name != "" {
		dst.Model.Name = src.Model.Name
	}
	if src.Model.MaxTokens != 0 {
		dst.Model.MaxTokens = src.Model.MaxTokens
	}
	if src.Monitor.Enabled {
		dst.Monitor.Enabled = true
	}
	if src.Monitor.Addr != "" {
		dst.Monitor.Addr = src.Monitor.Addr
	}
}

// applyEnvOverrides applies OPENLOOP_* environment variables.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("OPENLOOP_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("OPENLOOP_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("OPENLOOP_AUTONOMOUS"); v != "" {
		config.Runtime.Autonomous = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OPENLOOP_MODEL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Runtime.ModelLimit = n
		}
	}
	if v := os.Getenv("OPENLOOP_COMPACT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Runtime.CompactThreshold = f
		}
	}
	if v := os.Getenv("OPENLOOP_BASE_URL"); v != "" {
		config.Model.BaseURL = v
	}
	if v := os.Getenv("OPENLOOP_API_KEY"); v != "" {
		config.Model.APIKey = v
	}
	if v := os.Getenv("OPENLOOP_MODEL"); v != "" {
		config.Model.Name = v
	}
	if v := os.Getenv("OPENLOOP_MONITOR_ADDR"); v != "" {
		config.Monitor.Enabled = true
		config.Monitor.Addr = v
	}
}
