package agent

import (
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
)

// Configuration of the fleetward agent.
//
// to get `AgentConfig` instance, use `AgentConfigMarshall.TrySeal()` .
type AgentConfig struct {
	identity     *IdentityConfig
	controlPlane *ControlPlaneConfig
	fleet        *FleetConfig
	launcher     *LauncherConfig
	reconcile    *ReconcileConfig
	health       *HealthConfig
}

func (c *AgentConfig) Identity() *IdentityConfig {
	return c.identity
}

func (c *AgentConfig) ControlPlane() *ControlPlaneConfig {
	return c.controlPlane
}

func (c *AgentConfig) Fleet() *FleetConfig {
	return c.fleet
}

func (c *AgentConfig) Launcher() *LauncherConfig {
	return c.launcher
}

func (c *AgentConfig) Reconcile() *ReconcileConfig {
	return c.reconcile
}

func (c *AgentConfig) Health() *HealthConfig {
	return c.health
}

type IdentityConfig struct {
	organization string
	deployment   string
	token        string
}

// control-plane namespace this agent belongs to.
func (c *IdentityConfig) Organization() string {
	return c.organization
}

func (c *IdentityConfig) Deployment() string {
	return c.deployment
}

// the agent token. resolved from `token` or `tokenFile` at load.
func (c *IdentityConfig) Token() string {
	return c.token
}

func (c *IdentityConfig) AsIdentity() domain.AgentIdentity {
	return domain.AgentIdentity{
		Organization: c.organization,
		Deployment:   c.deployment,
		Token:        c.token,
	}
}

type ControlPlaneConfig struct {
	url          string
	pollInterval time.Duration
	backoff      *BackoffConfig
}

// base URL of the control-plane API.
func (c *ControlPlaneConfig) URL() string {
	return c.url
}

// suspend between polls. default = 5s
func (c *ControlPlaneConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *ControlPlaneConfig) Backoff() *BackoffConfig {
	return c.backoff
}

type BackoffConfig struct {
	initial time.Duration
	max     time.Duration
}

// first retry interval. default = 1s
func (c *BackoffConfig) Initial() time.Duration {
	return c.initial
}

// retry intervals never exceed this. default = 1m
func (c *BackoffConfig) Max() time.Duration {
	return c.max
}

type FleetConfig struct {
	namespace    string
	domain       string
	taskPrefix   string
	defaultShape domain.ResourceShape
}

// k8s namespace where workloads are placed.
func (c *FleetConfig) Namespace() string {
	return c.namespace
}

// k8s domain of the fleet. default = "cluster.local"
func (c *FleetConfig) Domain() string {
	return c.domain
}

// prefix of fleet task names. default = "task-req-"
func (c *FleetConfig) TaskPrefix() string {
	return c.taskPrefix
}

// shape applied when a request leaves CPU or Memory empty.
func (c *FleetConfig) DefaultShape() domain.ResourceShape {
	return c.defaultShape
}

type LauncherConfig struct {
	workers      int
	queue        int
	enqueueWait  time.Duration
	launchFor    time.Duration
	drainTimeout time.Duration
}

// size of launch worker pool. default = 4
func (c *LauncherConfig) Workers() int {
	return c.workers
}

// depth of launch queue. default = 16
func (c *LauncherConfig) Queue() int {
	return c.queue
}

// how long the dispatch loop may block to enqueue a launch. default = 1s
func (c *LauncherConfig) EnqueueWait() time.Duration {
	return c.enqueueWait
}

// timeout of a single launch call. default = 30s
func (c *LauncherConfig) LaunchFor() time.Duration {
	return c.launchFor
}

// how long in-flight launches may finish on shutdown. default = 15s
func (c *LauncherConfig) DrainTimeout() time.Duration {
	return c.drainTimeout
}

type ReconcileConfig struct {
	gracePeriod time.Duration
	debounce    time.Duration
	ttl         time.Duration
}

// how long observed state may diverge before a corrective action. default = 2m
func (c *ReconcileConfig) GracePeriod() time.Duration {
	return c.gracePeriod
}

// interval to pick the same resource again without changing state. default = 30s
func (c *ReconcileConfig) Debounce() time.Duration {
	return c.debounce
}

// terminal resources older than this are swept. default = 1h
func (c *ReconcileConfig) TTL() time.Duration {
	return c.ttl
}

type HealthConfig struct {
	sentinel string
	interval time.Duration
	port     int32
}

// path of the sentinel file read by the fleet's health probe.
func (c *HealthConfig) Sentinel() string {
	return c.sentinel
}

// refresh interval of the sentinel. default = 10s
func (c *HealthConfig) Interval() time.Duration {
	return c.interval
}

// port of the status/liveness HTTP server. default = 8080
func (c *HealthConfig) Port() int32 {
	return c.port
}
