package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alxayo/kvs-producer/internal/bufpool"
	"github.com/alxayo/kvs-producer/internal/config"
	"github.com/alxayo/kvs-producer/internal/logger"
	"github.com/alxayo/kvs-producer/internal/producer"
	"github.com/alxayo/kvs-producer/internal/stream"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.WithStream(logger.Logger(), cfg.StreamName)

	opts, err := buildOptions(cfg)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	coord, err := producer.NewCoordinator(opts)
	if err != nil {
		log.Error("failed to construct coordinator", "error", err)
		os.Exit(1)
	}
	if err := coord.Open(); err != nil {
		log.Error("failed to open session", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := newFileFrameLoader(cfg.FrameDir)
	if err != nil {
		log.Error("failed to open frame directory", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runProducerLoop(gctx, coord, loader)
	})
	g.Go(func() error {
		return runConsumerLoop(gctx, coord)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error("session ended with error", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		if err := coord.DoWorkDrain(); err != nil {
			log.Warn("drain error", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		log.Warn("forced exit after drain timeout")
	}

	if err := coord.Close(); err != nil {
		log.Error("close error", "error", err)
	}
	log.Info("shutdown complete")
}

func buildOptions(cfg *config.Config) (producer.Options, error) {
	opts := producer.Options{
		StreamName:           cfg.StreamName,
		Region:               cfg.Region,
		AccessKeyID:          cfg.AccessKeyID,
		SecretAccessKey:      cfg.SecretAccessKey,
		SessionToken:         cfg.SessionToken,
		DataRetentionInHours: uint32(cfg.DataRetentionHrs),
		StreamRbMemlimit:     cfg.StreamRbMemlimit,
		OnTerminate: func(payload []byte, _ uint64, _ stream.TrackType) {
			bufpool.Put(payload)
		},
	}
	if cfg.StreamPolicy == config.StreamPolicyRingBuffer {
		opts.StreamPolicy = producer.StreamPolicyRingBuffer
	}
	if cfg.UsesIot() {
		identity, err := loadIotIdentity(cfg)
		if err != nil {
			return producer.Options{}, err
		}
		opts.Iot = producer.IotOptions{
			CredentialHost:  cfg.IotCredentialHost,
			RoleAlias:       cfg.IotRoleAlias,
			ThingName:       cfg.IotThingName,
			X509RootCa:      identity.rootCA,
			X509Certificate: identity.cert,
			X509PrivateKey:  identity.key,
		}
	}
	return opts, nil
}

type iotFiles struct {
	rootCA, cert, key []byte
}

func loadIotIdentity(cfg *config.Config) (iotFiles, error) {
	rootCA, err := os.ReadFile(cfg.IotRootCAPath)
	if err != nil {
		return iotFiles{}, err
	}
	cert, err := os.ReadFile(cfg.IotCertificatePath)
	if err != nil {
		return iotFiles{}, err
	}
	key, err := os.ReadFile(cfg.IotPrivateKeyPath)
	if err != nil {
		return iotFiles{}, err
	}
	return iotFiles{rootCA: rootCA, cert: cert, key: key}, nil
}

// runProducerLoop feeds numbered frame files from the frame directory into
// the coordinator until the directory is exhausted or ctx is cancelled.
func runProducerLoop(ctx context.Context, coord *producer.Coordinator, loader *fileFrameLoader) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, ok, err := loader.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := coord.AddFrame(f.data, len(f.data), cap(f.data), f.timestampMs, f.track); err != nil {
			logger.Warn("dropping frame", "error", err, "timestamp_ms", f.timestampMs)
		}
		time.Sleep(frameInterval)
	}
}

// runConsumerLoop drives the coordinator's non-blocking DoWork pass.
func runConsumerLoop(ctx context.Context, coord *producer.Coordinator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := coord.DoWork(); err != nil {
			return err
		}
	}
}

// frameInterval approximates a 25fps video source when pacing the sample
// frame loader; a real caller paces frames from its own capture pipeline.
const frameInterval = 40 * time.Millisecond
