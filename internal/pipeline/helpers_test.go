package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trobanga/geochain/internal/models"
	"github.com/trobanga/geochain/internal/services"
)

// fakeModules stands in for the module executables. Output parameters create
// layers in the mapset named by the invocation environment; export modules
// write the requested files.
type fakeModules struct {
	mu       sync.Mutex
	calls    []services.Command
	failures map[string]int // module -> exit status
	silent   map[string]bool
	panics   map[string]bool
	before   func(n int, cmd services.Command)
}

func newFakeModules() *fakeModules {
	return &fakeModules{failures: map[string]int{}, silent: map[string]bool{}, panics: map[string]bool{}}
}

var outputParams = map[string]bool{"output": true, "slope": true, "aspect": true, "accumulation": true}

func (f *fakeModules) Run(_ context.Context, cmd services.Command) (services.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	n := len(f.calls)
	before := f.before
	f.mu.Unlock()

	if before != nil {
		before(n, cmd)
	}
	if f.panics[cmd.Name] {
		panic("module crashed")
	}
	if code, ok := f.failures[cmd.Name]; ok {
		return services.Result{ExitCode: code, Stderr: "ERROR: " + cmd.Name + " failed"}, nil
	}
	if f.silent[cmd.Name] {
		return services.Result{}, nil
	}

	env := envMap(cmd.Env)
	args := argMap(cmd.Args)

	switch cmd.Name {
	case "r.out.gdal":
		if err := os.WriteFile(args["output"], []byte("GTiff:"+args["input"]), 0644); err != nil {
			return services.Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
	case "v.out.ogr":
		out := filepath.Join(cmd.Dir, args["output"])
		if args["format"] == string(models.FormatESRIShapefile) {
			if err := os.MkdirAll(out, 0755); err != nil {
				return services.Result{ExitCode: 1, Stderr: err.Error()}, nil
			}
			for _, ext := range []string{".shp", ".shx", ".dbf"} {
				_ = os.WriteFile(filepath.Join(out, args["output"]+ext), []byte("shape"), 0644)
			}
		} else if err := os.WriteFile(out, []byte(args["format"]+":"+args["input"]), 0644); err != nil {
			return services.Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
	default:
		mapset := filepath.Join(env["GISDBASE"], env["LOCATION_NAME"], env["MAPSET"])
		for key, value := range args {
			if !outputParams[key] {
				continue
			}
			if strings.HasPrefix(cmd.Name, "v.") {
				_ = os.MkdirAll(filepath.Join(mapset, "vector", value), 0755)
				_ = os.WriteFile(filepath.Join(mapset, "vector", value, "coor"), []byte(cmd.Name), 0644)
			} else {
				_ = os.WriteFile(filepath.Join(mapset, "cell", value), []byte(cmd.Name), 0644)
			}
		}
	}

	return services.Result{Stdout: cmd.Name + " done"}, nil
}

func (f *fakeModules) modules() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Name)
	}
	return names
}

func (f *fakeModules) call(i int) services.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func envMap(env []string) map[string]string {
	m := map[string]string{}
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func argMap(args []string) map[string]string {
	m := map[string]string{}
	for _, a := range args {
		if k, v, ok := strings.Cut(a, "="); ok && !strings.HasPrefix(k, "-") {
			m[k] = v
		}
	}
	return m
}

// newGISDBase creates location nc with PERMANENT and an existing mapset user1
func newGISDBase(t *testing.T) string {
	t.Helper()
	gisdbase := t.TempDir()
	for rel, content := range map[string]string{
		"nc/PERMANENT/DEFAULT_WIND":   "north: 10\n",
		"nc/PERMANENT/cell/elevation": "dem",
		"nc/user1/WIND":               "north: 5\n",
		"nc/user1/cell/existing":      "old",
	} {
		path := filepath.Join(gisdbase, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return gisdbase
}

func parseChain(t *testing.T, data string) *models.ProcessChain {
	t.Helper()
	chain, err := models.ParseProcessChain([]byte(data))
	require.NoError(t, err)
	return chain
}

func runningJob(t *testing.T, mapset string, chain *models.ProcessChain) *models.Job {
	t.Helper()
	job := models.NewJob("alice", models.NewResourceID(), "nc", mapset, chain)
	require.NoError(t, job.Transition(models.JobStatusRunning))
	return job
}

const slopeChain = `{
  "1": {"module": "g.region", "inputs": {"raster": "elevation@PERMANENT", "res": 10}, "flags": "p"},
  "2": {"module": "r.slope.aspect",
        "inputs": {"elevation": "elevation@PERMANENT", "format": "degrees"},
        "outputs": {"aspect": {"name": "my_aspect"}, "slope": {"name": "my_slope", "export": {"type": "raster"}}},
        "overwrite": true},
  "3": {"module": "r.watershed", "inputs": {"elevation": "elevation@PERMANENT"},
        "outputs": {"accumulation": {"value": "my_accumulation"}}},
  "4": {"module": "r.info", "inputs": {"map": "my_aspect"}, "flags": "g"}
}`
