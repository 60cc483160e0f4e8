package micvad

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortMu sync.Mutex

// initRuntime points onnxruntime_go at a shared library and initializes the
// environment. The environment is process-wide; later calls are no-ops, so the
// library chosen by the first engine wins.
func initRuntime(configured string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if p := resolveRuntimeLib(configured, candidateBaseDirs()); p != "" {
		ort.SetSharedLibraryPath(p)
	} else if configured != "" {
		return fmt.Errorf("micvad: onnxruntime library not found under %s", configured)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("micvad: initialize onnxruntime: %w", err)
	}
	return nil
}

// Directories searched under each base directory for bundled assets.
const (
	// DataDir holds the Silero models and optionally an arch-tagged runtime
	// (data/onnxruntime_arm64.dylib).
	DataDir = "data"
	// BundledLibDir holds per-platform release builds of the runtime
	// (lib/linux_amd64/libonnxruntime.so).
	BundledLibDir = "lib"
)

// resolveRuntimeLib picks the runtime library to load. A configured file is
// used as is; a configured directory is searched directly and then with the
// bundled layout. Without a configured path the bundled layout is searched
// under baseDirs. An empty result leaves onnxruntime_go on its default search
// path.
func resolveRuntimeLib(configured string, baseDirs []string) string {
	if configured == "" {
		return findRuntimeLib(bundledDirs(baseDirs))
	}
	info, err := os.Stat(configured)
	if err != nil {
		return ""
	}
	if !info.IsDir() {
		return configured
	}
	return findRuntimeLib(append([]string{configured}, bundledDirs([]string{configured})...))
}

// RuntimeLibrary returns the onnxruntime library New would load for
// configured, or an error when none is found.
func RuntimeLibrary(configured string) (string, error) {
	p := resolveRuntimeLib(configured, candidateBaseDirs())
	if p == "" {
		if configured == "" {
			return "", fmt.Errorf("micvad: no bundled onnxruntime library under %s or %s", DataDir, BundledLibDir)
		}
		return "", fmt.Errorf("micvad: onnxruntime library not found under %s", configured)
	}
	return p, nil
}

// findRuntimeLib returns the first runtime library found in dirs, trying
// every name in runtimeLibNames per directory.
func findRuntimeLib(dirs []string) string {
	names := runtimeLibNames()
	for _, dir := range dirs {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return ""
}

// bundledDirs expands base directories into the bundled layout. Every data
// directory comes before any lib directory.
func bundledDirs(bases []string) []string {
	var data, lib []string
	for _, base := range bases {
		if base == "" {
			continue
		}
		data = append(data, filepath.Join(base, DataDir))
		lib = append(lib, filepath.Join(base, BundledLibDir, runtime.GOOS+"_"+runtime.GOARCH))
	}
	return append(data, lib...)
}

// runtimeLibNames lists library file names for this platform: the
// arch-tagged name used under data first, then the release names. Linux
// releases ship a versioned .so.
func runtimeLibNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"onnxruntime_" + runtime.GOARCH + ".dylib", "libonnxruntime.dylib"}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return []string{"onnxruntime_" + runtime.GOARCH + ".so", "libonnxruntime.so.1.23.2", "libonnxruntime.so"}
	}
}

// candidateBaseDirs returns the working directory and, when different, the
// executable's directory.
func candidateBaseDirs() []string {
	cwd, _ := os.Getwd()
	exe, err := os.Executable()
	if err != nil {
		return []string{cwd}
	}
	if dir := filepath.Dir(exe); dir != cwd {
		return []string{cwd, dir}
	}
	return []string{cwd}
}
