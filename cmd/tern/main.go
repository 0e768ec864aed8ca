// tern CLI - the main entry point for running tern programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/tern/cache"
	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/server"
	"github.com/chazu/tern/vm"
	"github.com/chazu/tern/vm/image"

	_ "github.com/tliron/commonlog/simple"
)

// ImageExt is the extension of compiled tern images.
const ImageExt = ".ternc"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	verbose     int
	interactive bool
	trace       bool
	dumpAST     bool
	disasm      bool
	build       string
	noCache     bool
	serve       bool
	addr        string
	lsp         bool
	remote      string
	maxFrames   int
	stackSize   int
	path        string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tern", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.IntVar(&o.verbose, "v", 0, "Log verbosity (0 quiet, 1 info, 2 debug)")
	fs.BoolVar(&o.interactive, "i", false, "Start interactive REPL")
	fs.BoolVar(&o.trace, "trace", false, "Log every executed instruction (needs -v 2)")
	fs.BoolVar(&o.dumpAST, "ast", false, "Print the parsed program as YAML and exit")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the compiled bytecode and exit")
	fs.StringVar(&o.build, "build", "", "Compile to an image file and exit")
	fs.BoolVar(&o.noCache, "no-cache", false, "Do not use the compiled-image cache")
	fs.BoolVar(&o.serve, "serve", false, "Start the evaluation server (gRPC + Connect HTTP/JSON)")
	fs.StringVar(&o.addr, "addr", "", "Evaluation server address (used with -serve)")
	fs.BoolVar(&o.lsp, "lsp", false, "Start the language server on stdio")
	fs.StringVar(&o.remote, "remote", "", "Evaluate on a remote server at host:port")
	fs.IntVar(&o.maxFrames, "max-frames", 0, "Call depth limit (overrides tern.toml)")
	fs.IntVar(&o.stackSize, "stack-size", 0, "Value stack size (overrides tern.toml)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tern [options] [file.tern | file%s]\n\n", ImageExt)
		fmt.Fprintf(stderr, "Runs a tern script. Without a file, runs the tern.toml entry or starts the REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tern hello.tern                  # Run a script\n")
		fmt.Fprintf(stderr, "  tern -disasm hello.tern          # Show bytecode\n")
		fmt.Fprintf(stderr, "  tern -build hello.ternc hello.tern\n")
		fmt.Fprintf(stderr, "  tern hello.ternc                 # Run a compiled image\n")
		fmt.Fprintf(stderr, "  tern -serve -addr :7411          # Start the evaluation server\n")
		fmt.Fprintf(stderr, "  tern -remote localhost:7411 hello.tern\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("expected at most one file, got %d", fs.NArg())
	}
	o.path = fs.Arg(0)
	return o, nil
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return fail(stderr, err)
	}

	commonlog.Configure(o.verbose, nil)
	log := commonlog.GetLogger("tern")

	m, err := loadManifest(o.path)
	if err != nil {
		return fail(stderr, err)
	}
	if o.path == "" {
		o.path = m.EntryPath()
	}
	applyOverrides(m, o)

	switch {
	case o.lsp:
		v := newVM(m, stdout)
		if err := server.NewLSP(v).Run(); err != nil {
			return fail(stderr, err)
		}
		return 0

	case o.serve:
		srv := server.New(server.WithVMOptions(m.VMOptions()...))
		defer srv.Stop()
		if err := srv.ListenAndServe(m.Server.Addr); err != nil {
			return fail(stderr, fmt.Errorf("server: %w", err))
		}
		return 0

	case o.path == "" || o.interactive:
		v := newVM(m, stdout)
		if o.path != "" {
			if err := runFile(v, m, o, o.path, stdout, log); err != nil {
				return fail(stderr, err)
			}
		}
		runREPL(v, stdin, stdout, stderr)
		return 0
	}

	if o.remote != "" {
		if err := runRemote(o.remote, o.path, stdout); err != nil {
			return fail(stderr, err)
		}
		return 0
	}

	if err := runFile(newVM(m, stdout), m, o, o.path, stdout, log); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// loadManifest finds tern.toml next to the script (or in the working
// directory) and falls back to defaults.
func loadManifest(path string) (*manifest.Manifest, error) {
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func applyOverrides(m *manifest.Manifest, o *options) {
	if o.maxFrames > 0 {
		m.VM.MaxFrames = o.maxFrames
	}
	if o.stackSize > 0 {
		m.VM.StackSize = o.stackSize
	}
	if o.trace {
		m.VM.Trace = true
	}
	if o.addr != "" {
		m.Server.Addr = o.addr
	}
	if o.noCache {
		off := false
		m.Cache.Enabled = &off
	}
}

func newVM(m *manifest.Manifest, stdout io.Writer) *vm.VM {
	v := vm.NewVM(append(m.VMOptions(), vm.WithOutput(stdout))...)
	v.UseCompiler(compiler.Compile)
	return v
}

// runFile runs, dumps or builds the script at path according to o.
func runFile(v *vm.VM, m *manifest.Manifest, o *options, path string, stdout io.Writer, log commonlog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.HasSuffix(path, ImageExt) {
		fn, err := image.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if o.disasm {
			fmt.Fprint(stdout, vm.DisassembleFunction(fn))
			return nil
		}
		return v.Run(fn)
	}

	source := string(data)
	switch {
	case o.dumpAST:
		stmts, err := compiler.Parse(source)
		if err != nil {
			return err
		}
		out, err := compiler.DumpAST(stmts)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, out)
		return nil

	case o.disasm:
		fn, err := compiler.Compile(source)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, vm.DisassembleFunction(fn))
		return nil

	case o.build != "":
		fn, err := compiler.Compile(source)
		if err != nil {
			return err
		}
		img, err := image.MarshalSource(fn, source)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.build, img, 0644); err != nil {
			return err
		}
		log.Infof("wrote %s (%d bytes)", o.build, len(img))
		return nil
	}

	fn, err := compileCached(m, source, log)
	if err != nil {
		return err
	}
	return v.Run(fn)
}

// compileCached compiles source through the image cache when enabled. A
// cache that cannot be opened is logged and skipped.
func compileCached(m *manifest.Manifest, source string, log commonlog.Logger) (*vm.ObjFunction, error) {
	if !m.CacheEnabled() {
		return compiler.Compile(source)
	}

	path := m.CachePath()
	if path == "" {
		var err error
		if path, err = cache.DefaultPath(); err != nil {
			log.Warningf("cache disabled: %s", err)
			return compiler.Compile(source)
		}
	}
	c, err := cache.Open(path)
	if err != nil {
		log.Warningf("cache disabled: %s", err)
		return compiler.Compile(source)
	}
	defer c.Close()

	fn, hit, err := c.Compile(source, compiler.Compile)
	if err != nil {
		return nil, err
	}
	log.Debugf("cache %s: hit=%t", c.Path(), hit)
	return fn, nil
}

func runRemote(addr, path string, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	client, err := server.DialRemote(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Evaluate(context.Background(), string(data))
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, res.Output)
	if !res.OK {
		return errors.New(res.Error)
	}
	return nil
}

// fail reports err on stderr and returns the failure exit code. The
// "Error:" label is red when stderr is a terminal.
func fail(stderr io.Writer, err error) int {
	label := "Error:"
	if f, ok := stderr.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		label = "\x1b[31mError:\x1b[0m"
	}
	fmt.Fprintf(stderr, "%s %v\n", label, err)
	return 1
}
