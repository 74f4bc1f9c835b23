package agent

import (
	"fmt"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/agent.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

// Configuration of the fleetward agent.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `AgentConfig`.
// You can get `AgentConfig` instance with `AgentConfigMarshall.TrySeal()`
type AgentConfigMarshall struct {
	Identity     *IdentityConfigMarshall     `yaml:"identity"`
	ControlPlane *ControlPlaneConfigMarshall `yaml:"controlPlane"`
	Fleet        *FleetConfigMarshall        `yaml:"fleet"`
	Launcher     *LauncherConfigMarshall     `yaml:"launcher,omitempty"`
	Reconcile    *ReconcileConfigMarshall    `yaml:"reconcile,omitempty"`
	Health       *HealthConfigMarshall       `yaml:"health"`
}

var _ Marshalled[*AgentConfig] = &AgentConfigMarshall{}

// verify configuration value and create "readonly" version of this.
//
// IT WILL PANIC if any misconfiguration is found.
func (am *AgentConfigMarshall) TrySeal() *AgentConfig {
	return am.trySeal("(root)")
}

func (am *AgentConfigMarshall) trySeal(path string) *AgentConfig {
	launcher := am.Launcher
	if launcher == nil {
		launcher = &LauncherConfigMarshall{}
	}
	reconcile := am.Reconcile
	if reconcile == nil {
		reconcile = &ReconcileConfigMarshall{}
	}
	return &AgentConfig{
		identity:     nonnil(am.Identity, path+".identity").trySeal(path + ".identity"),
		controlPlane: nonnil(am.ControlPlane, path+".controlPlane").trySeal(path + ".controlPlane"),
		fleet:        nonnil(am.Fleet, path+".fleet").trySeal(path + ".fleet"),
		launcher:     launcher.trySeal(path + ".launcher"),
		reconcile:    reconcile.trySeal(path + ".reconcile"),
		health:       nonnil(am.Health, path+".health").trySeal(path + ".health"),
	}
}

type IdentityConfigMarshall struct {
	Organization string `yaml:"organization"`
	Deployment   string `yaml:"deployment"`
	Token        string `yaml:"token,omitempty"`
	TokenFile    string `yaml:"tokenFile,omitempty"`

	// resolvedToken is filled by Load when TokenFile is used.
	resolvedToken string
}

func (im *IdentityConfigMarshall) trySeal(path string) *IdentityConfig {
	token := im.Token
	if token == "" {
		token = im.resolvedToken
	}
	return &IdentityConfig{
		organization: required(im.Organization, path+".organization"),
		deployment:   required(im.Deployment, path+".deployment"),
		token:        required(token, path+".token (or .tokenFile)"),
	}
}

type ControlPlaneConfigMarshall struct {
	URL          string                  `yaml:"url"`
	PollInterval string                  `yaml:"pollInterval,omitempty"`
	Backoff      *BackoffConfigMarshall  `yaml:"backoff,omitempty"`
}

func (cm *ControlPlaneConfigMarshall) trySeal(path string) *ControlPlaneConfig {
	backoff := cm.Backoff
	if backoff == nil {
		backoff = &BackoffConfigMarshall{}
	}
	return &ControlPlaneConfig{
		url:          required(cm.URL, path+".url"),
		pollInterval: duration(cm.PollInterval, 5*time.Second, path+".pollInterval"),
		backoff:      backoff.trySeal(path + ".backoff"),
	}
}

type BackoffConfigMarshall struct {
	Initial string `yaml:"initial,omitempty"`
	Max     string `yaml:"max,omitempty"`
}

func (bm *BackoffConfigMarshall) trySeal(path string) *BackoffConfig {
	initial := duration(bm.Initial, 1*time.Second, path+".initial")
	max := duration(bm.Max, 1*time.Minute, path+".max")
	if max < initial {
		panic(fmt.Errorf("%s.max (%s) is less than .initial (%s)", path, max, initial))
	}
	return &BackoffConfig{initial: initial, max: max}
}

type FleetConfigMarshall struct {
	Namespace    string                `yaml:"namespace"`
	Domain       string                `yaml:"domain,omitempty"`
	TaskPrefix   string                `yaml:"taskPrefix,omitempty"`
	DefaultShape *ShapeConfigMarshall  `yaml:"defaultShape,omitempty"`
}

func (fm *FleetConfigMarshall) trySeal(path string) *FleetConfig {
	domainName := fm.Domain
	if domainName == "" {
		domainName = "cluster.local"
	}
	prefix := fm.TaskPrefix
	if prefix == "" {
		prefix = "task-req-"
	}
	shape := domain.ResourceShape{CPU: "500m", Memory: "256Mi"}
	if fm.DefaultShape != nil {
		shape = domain.ResourceShape{
			CPU:    required(fm.DefaultShape.CPU, path+".defaultShape.cpu"),
			Memory: required(fm.DefaultShape.Memory, path+".defaultShape.memory"),
		}
	}
	return &FleetConfig{
		namespace:    required(fm.Namespace, path+".namespace"),
		domain:       domainName,
		taskPrefix:   prefix,
		defaultShape: shape,
	}
}

type ShapeConfigMarshall struct {
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

type LauncherConfigMarshall struct {
	Workers      int    `yaml:"workers,omitempty"`
	Queue        int    `yaml:"queue,omitempty"`
	EnqueueWait  string `yaml:"enqueueWait,omitempty"`
	LaunchFor    string `yaml:"launchTimeout,omitempty"`
	DrainTimeout string `yaml:"drainTimeout,omitempty"`
}

func (lm *LauncherConfigMarshall) trySeal(path string) *LauncherConfig {
	workers := lm.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := lm.Queue
	if queue <= 0 {
		queue = 16
	}
	return &LauncherConfig{
		workers:      workers,
		queue:        queue,
		enqueueWait:  duration(lm.EnqueueWait, 1*time.Second, path+".enqueueWait"),
		launchFor:    duration(lm.LaunchFor, 30*time.Second, path+".launchTimeout"),
		drainTimeout: duration(lm.DrainTimeout, 15*time.Second, path+".drainTimeout"),
	}
}

type ReconcileConfigMarshall struct {
	GracePeriod string `yaml:"gracePeriod,omitempty"`
	Debounce    string `yaml:"debounce,omitempty"`
	TTL         string `yaml:"ttl,omitempty"`
}

func (rm *ReconcileConfigMarshall) trySeal(path string) *ReconcileConfig {
	return &ReconcileConfig{
		gracePeriod: duration(rm.GracePeriod, 2*time.Minute, path+".gracePeriod"),
		debounce:    duration(rm.Debounce, 30*time.Second, path+".debounce"),
		ttl:         duration(rm.TTL, 1*time.Hour, path+".ttl"),
	}
}

type HealthConfigMarshall struct {
	Sentinel string `yaml:"sentinel"`
	Interval string `yaml:"interval,omitempty"`
	Port     int32  `yaml:"port,omitempty"`
}

func (hm *HealthConfigMarshall) trySeal(path string) *HealthConfig {
	port := hm.Port
	if port == 0 {
		port = 8080
	}
	return &HealthConfig{
		sentinel: required(hm.Sentinel, path+".sentinel"),
		interval: duration(hm.Interval, 10*time.Second, path+".interval"),
		port:     port,
	}
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func duration(v string, fallback time.Duration, path string) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed as duration: %w", path, err))
	}
	return d
}
