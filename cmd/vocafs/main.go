package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"vocafs/internal/config"
	"vocafs/internal/fs"
	"vocafs/internal/logging"
	"vocafs/internal/vfs"
	"vocafs/internal/vocaroo"

	"bazil.org/fuse"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

var (
	logger = logging.GetLogger()
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [--debug-fuse] [--config FILE] [--verbose] MOUNTPOINT\n\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	// Parse command line flags
	debugFuse := flag.Bool("debug-fuse", false, "Trace every FUSE request and response")
	configFile := flag.String("config", "", "Config file path (created with defaults if missing)")
	verbose := flag.BoolP("verbose", "v", false, "Enable verbose logging")
	flag.Usage = usage
	flag.Parse()

	// Configure logging based on flags
	if *verbose {
		logger.SetLevel(logging.LevelDebug)
	}
	if *debugFuse {
		logger.SetLevel(logging.LevelTrace)
		fuse.Debug = logger.WithPrefix("protocol").TraceFunc()
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	mountPoint := filepath.Clean(flag.Arg(0))

	logger.Info("Starting vocafs...")
	logger.Debug("Mount point: %s", mountPoint)
	logger.Debug("Config file: %s", *configFile)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	client, err := vocaroo.NewClient(vocaroo.Config{
		UploadURL:   cfg.UploadURL,
		DownloadURL: cfg.DownloadURL,
		UserAgent:   cfg.UserAgent,
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
	})
	if err != nil {
		logger.Error("Failed to create remote client: %v", err)
		os.Exit(1)
	}

	uid, gid := cfg.Owner()
	logger.Debug("Root owner: %d:%d", uid, gid)
	ops := vfs.New(vfs.Options{
		Remote:    client,
		ChunkSize: cfg.ChunkSize,
		RootUID:   uid,
		RootGID:   gid,
	})
	vocafs := fs.New(ops)

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Mounting filesystem...")
	if err := vocafs.Mount(mountPoint); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	var serveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Serving filesystem...")
		serveErr = vocafs.Serve()
	}()

	logger.Info("Filesystem mounted and ready")

	// Wait for signal
	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := vocafs.Unmount(mountPoint); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	wg.Wait()
	if serveErr != nil {
		logger.Error("FUSE server error: %v", serveErr)
		detach(mountPoint)
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}

// detach lazily unmounts mountPoint so a failed server does not leave a
// dead mount behind.
func detach(mountPoint string) {
	if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
		logger.Warn("Lazy unmount of %s failed: %v", mountPoint, err)
		return
	}
	logger.Info("Lazily unmounted %s", mountPoint)
}
