package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetward/fleetward/cmd/fleetagt/server"
	configs "github.com/fleetward/fleetward/pkg/configs/agent"
	"github.com/fleetward/fleetward/pkg/controlplane"
	"github.com/fleetward/fleetward/pkg/domain"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/health"
	"github.com/fleetward/fleetward/pkg/launcher"
	"github.com/fleetward/fleetward/pkg/loop/recurring"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/store/memory"
	"github.com/fleetward/fleetward/pkg/store/postgres"
	"github.com/fleetward/fleetward/pkg/utils/filewatch"
	"github.com/fleetward/fleetward/pkg/utils/kubeutil"
	"github.com/fleetward/fleetward/pkg/utils/retry"
	"github.com/fleetward/fleetward/pkg/utils/try"
)

const (
	incidentWindow       = 64
	housekeepingInterval = 5 * time.Minute
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("FLEETWARD_CONFIG"), "path to agent config file",
	)
	pdburl := flag.String(
		"db", os.Getenv("FLEETWARD_DB"),
		"postgres URL of the resource store. Empty runs on the in-process store.",
	)
	flag.Parse()

	{
		// the process dies on config change, and the platform restarts it.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.LoadAgentConfig(*pconfig)).OrFatal(logger)
	identity := conf.Identity().AsIdentity()

	var st store.Store
	if *pdburl != "" {
		st = try.To(postgres.New(ctx, *pdburl)).OrFatal(logger)
	} else {
		logger.Println("no database given; resource records will not survive restarts")
		st = memory.New()
	}
	defer st.Close()
	resources := st.Resources()

	cluster := k8s.AttachCluster(
		k8s.WrapFleetClient(kubeutil.ConnectToK8s()),
		conf.Fleet().Namespace(),
		conf.Fleet().Domain(),
	)
	taskSpec := k8s.TaskSpec{
		Prefix:       conf.Fleet().TaskPrefix(),
		DefaultShape: conf.Fleet().DefaultShape(),
	}

	client := controlplane.NewClient(conf.ControlPlane().URL())
	backoff := conf.ControlPlane().Backoff()

	logger.Printf("registering %s with %s", identity, conf.ControlPlane().URL())
	session := try.To(retry.Blocking(
		ctx,
		retry.CappedExponentialBackoff(backoff.Initial(), 2, backoff.Max()),
		func() (*controlplane.Session, error) {
			s, err := client.Register(ctx, identity)
			if err != nil && errors.Is(err, domain.ErrNetwork) {
				logger.Printf("control plane not reachable yet: %s", err)
				return nil, fmt.Errorf("%w: %s", retry.ErrRetry, err)
			}
			return s, err
		},
	)).OrFatal(logger)
	logger.Printf("registered as agent %s", session.AgentId)

	gate := health.NewGate()
	reporter := health.NewReporter(gate, conf.Health().Sentinel())
	recorder := status.NewRecorder(incidentWindow)

	launch := launcher.New(
		resources, cluster, taskSpec, conf.Launcher().LaunchFor(),
		launcher.WithFailureHook(func(requestId string, err error) {
			recorder.Record("launch", requestId, err)
		}),
	)
	pool := launcher.NewPool(
		launch,
		conf.Launcher().Workers(),
		conf.Launcher().Queue(),
		conf.Launcher().EnqueueWait(),
		conf.ControlPlane().PollInterval(),
		byLogger(logger, Copied(), WithPrefix("[launch pool] ")),
	)

	loops := Loops{
		Session:   session,
		Client:    client,
		Resources: resources,
		Cluster:   cluster,
		Spec:      taskSpec,
		Launcher:  launch,
		Pool:      pool,
		Gate:      gate,
		Reporter:  reporter,
		Recorder:  recorder,
	}

	e := server.New(
		identity,
		func() string { return session.AgentId },
		resources, gate, recorder,
		health.NewHandler(gate, reporter, 3*conf.Health().Interval()),
	)
	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(
			context.Background(), conf.Launcher().DrainTimeout(),
		)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			logger.Printf("error on status server shutdown: %s", err)
		}
	})

	transient := func(err error) bool { return errors.Is(err, domain.ErrNetwork) }
	anything := func(err error) bool { return true }

	errch := make(chan error, 5)
	go func() {
		errch <- loops.StartDispatchLoop(ctx, logger, recurring.Retrying(
			recurring.Forever(conf.ControlPlane().PollInterval()),
			backoff.Initial(), backoff.Max(), transient,
		))
	}()
	go func() {
		errch <- loops.StartReconcileLoop(
			ctx, logger,
			recurring.Retrying(
				recurring.Forever(conf.Reconcile().Debounce()),
				backoff.Initial(), backoff.Max(), anything,
			),
			conf.Reconcile().Debounce(),
			conf.Reconcile().GracePeriod(),
		)
	}()
	go func() {
		errch <- loops.StartHousekeepingLoop(
			ctx, logger,
			recurring.Retrying(
				recurring.Forever(housekeepingInterval),
				backoff.Initial(), backoff.Max(), anything,
			),
			conf.Reconcile().TTL(),
		)
	}()
	go func() {
		errch <- loops.StartHealthLoop(ctx, logger, conf.Health().Interval())
	}()
	go func() {
		errch <- pool.Run(ctx)
	}()
	go func() {
		err := e.Start(fmt.Sprintf(":%d", conf.Health().Port()))
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errch <- err
		}
	}()

	err := <-errch
	cancel()

	if err == nil || errors.Is(err, context.Canceled) {
		logger.Println("shutting down:", context.Cause(ctx))
		return
	}
	logger.Fatal(err)
}
