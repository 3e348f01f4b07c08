// Command driposd boots the kernel runtime described by spec.md: it
// assembles a VFS tree, mounts a devfs-backed block device and an
// echfs filesystem on top of it, starts the scheduler across a
// configured number of cores, and spawns a couple of demo kernel
// threads for it to schedule; it does not issue any syscalls through
// the syscall gateway. Grounded on
// cmd/cammount's flag-driven, single-main-function daemon shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go4.org/jsonconfig"
	"golang.org/x/crypto/ssh"

	"dripos.dev/kernel/pkg/device"
	"dripos.dev/kernel/pkg/device/file"
	"dripos.dev/kernel/pkg/device/gcs"
	"dripos.dev/kernel/pkg/device/mem"
	"dripos.dev/kernel/pkg/device/s3"
	"dripos.dev/kernel/pkg/device/sftp"
	"dripos.dev/kernel/pkg/echfs"
	"dripos.dev/kernel/pkg/sched"
	"dripos.dev/kernel/pkg/task"
	"dripos.dev/kernel/pkg/topo"
	"dripos.dev/kernel/pkg/vfs"
	"dripos.dev/kernel/pkg/vfs/devfs"
)

var (
	configPath  = flag.String("config", "", "path to a JSON boot config; built-in defaults are used when empty")
	cores       = flag.Int("cores", 2, "number of simulated CPUs")
	tickPeriod  = flag.Duration("tick", 10*time.Millisecond, "wall-clock period of one timer tick")
	metricsAddr = flag.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9100; empty disables")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: driposd [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

// bootConfig is the parsed shape of the -config file.
type bootConfig struct {
	Cores int

	DiskKind   string // "mem", "file", "gcs", "s3", or "sftp"
	DiskPath   string // file path, GCS/S3 object key, or sftp remote path
	DiskBucket string // gcs/s3 bucket
	DiskRegion string // s3 region
	DiskAddr   string // sftp "host:port"
	DiskUser   string // sftp username
	DiskPass   string // sftp password

	DiskBlocks  int
	BlockSize   int
	MountName   string
	MetricsAddr string
}

func defaultConfig() bootConfig {
	return bootConfig{
		Cores:      *cores,
		DiskKind:   "mem",
		DiskBlocks: 64,
		BlockSize:  512,
		MountName:  "echfs_mount",
	}
}

func loadConfig(path string) (bootConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	obj, err := jsonconfig.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.Cores = obj.OptionalInt("cores", cfg.Cores)
	cfg.DiskKind = obj.OptionalString("diskKind", cfg.DiskKind)
	cfg.DiskPath = obj.OptionalString("diskPath", cfg.DiskPath)
	cfg.DiskBucket = obj.OptionalString("diskBucket", cfg.DiskBucket)
	cfg.DiskRegion = obj.OptionalString("diskRegion", cfg.DiskRegion)
	cfg.DiskAddr = obj.OptionalString("diskAddr", cfg.DiskAddr)
	cfg.DiskUser = obj.OptionalString("diskUser", cfg.DiskUser)
	cfg.DiskPass = obj.OptionalString("diskPass", cfg.DiskPass)
	cfg.DiskBlocks = obj.OptionalInt("diskBlocks", cfg.DiskBlocks)
	cfg.BlockSize = obj.OptionalInt("blockSize", cfg.BlockSize)
	cfg.MountName = obj.OptionalString("mountName", cfg.MountName)
	cfg.MetricsAddr = obj.OptionalString("metricsAddr", cfg.MetricsAddr)
	if err := obj.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openDisk(cfg bootConfig) (device.Device, error) {
	switch cfg.DiskKind {
	case "mem":
		return mem.New(make([]byte, cfg.DiskBlocks*cfg.BlockSize), cfg.BlockSize), nil
	case "file":
		return file.Open(cfg.DiskPath, cfg.BlockSize)
	case "gcs":
		return gcs.Open(context.Background(), gcs.Config{Bucket: cfg.DiskBucket, Object: cfg.DiskPath}, cfg.BlockSize)
	case "s3":
		return s3.Open(s3.Config{Bucket: cfg.DiskBucket, Key: cfg.DiskPath, Region: cfg.DiskRegion}, cfg.BlockSize)
	case "sftp":
		return sftp.Open(sftp.Config{
			Addr: cfg.DiskAddr,
			Path: cfg.DiskPath,
			Client: &ssh.ClientConfig{
				User:            cfg.DiskUser,
				Auth:            []ssh.AuthMethod{ssh.Password(cfg.DiskPass)},
				HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			},
		}, cfg.BlockSize)
	default:
		return nil, fmt.Errorf("driposd: unknown diskKind %q", cfg.DiskKind)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("driposd: loading config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	tree := vfs.New()
	reg := task.NewRegistry()
	top := topo.NewTopology(cfg.Cores)
	scheduler := sched.New(reg, top)

	disk, err := openDisk(cfg)
	if err != nil {
		log.Fatalf("driposd: opening boot disk: %v", err)
	}
	if _, err := devfs.Register(tree, "sda", disk); err != nil {
		log.Fatalf("driposd: registering /dev/sda: %v", err)
	}

	if err := bootFilesystem(tree, disk, cfg.MountName); err != nil {
		log.Printf("driposd: no echfs filesystem on /dev/sda, skipping mount: %v", err)
	}

	log.Printf("driposd: booted with %d cores, disk kind %q, mount /%s", cfg.Cores, cfg.DiskKind, cfg.MountName)

	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		for _, c := range scheduler.Collectors() {
			promReg.MustRegister(c)
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
			log.Printf("driposd: serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("driposd: metrics server: %v", err)
			}
		}()
	}

	spawnDemoThreads(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	frames := make([]*task.Frame, cfg.Cores)
	for i := range frames {
		frames[i] = &task.Frame{}
	}

	go func() {
		if err := scheduler.RunCores(ctx, frames); err != nil {
			log.Printf("driposd: core supervision exited: %v", err)
		}
	}()

	ticker := time.NewTicker(*tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("driposd: shutting down")
			return
		case <-ticker.C:
			scheduler.Tick(frames[0])
		}
	}
}

// bootFilesystem parses disk as an echfs image and mounts it at
// /<mountName>, the runnable analogue of spec.md §8 scenario 1.
func bootFilesystem(tree *vfs.Tree, disk device.Device, mountName string) error {
	fsDisk, err := echfs.Open(disk, mountName)
	if err != nil {
		return err
	}
	_, err = echfs.Mount(tree, fsDisk)
	return err
}

// spawnDemoThreads creates a couple of ring-0 kernel threads, the
// runnable analogue of spec.md §8 scenario 2's two-thread round-robin
// demonstration.
func spawnDemoThreads(reg *task.Registry) {
	for i, name := range []string{"demo-a", "demo-b"} {
		pid, tid := reg.NewKernelProcess(name, uint64(0x400000+i*0x1000))
		log.Printf("driposd: spawned %s as pid=%d tid=%d", name, pid.Pack(), tid.Pack())
	}
}
