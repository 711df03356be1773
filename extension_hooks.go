package appstoreconnect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-appstore-connect/core"
	"github.com/goliatone/go-appstore-connect/jobs"
)

// RecordSinkPack is a named group of record sinks a host contributes. The app
// folds registered sinks into the fan-out behind its primary store, so every
// persisted and replayed record reaches them.
type RecordSinkPack struct {
	Name  string
	Sinks []core.RecordSink
}

// JobHandlerPack is a named group of maintenance job handlers keyed by job id.
// Registered handlers run on the app's maintenance worker next to the built-in
// sweep and replay jobs.
type JobHandlerPack struct {
	Name     string
	Handlers map[string]jobs.Handler
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects host contributions before the app is assembled:
// extra record sinks, extra maintenance jobs, and named command/query bundles
// built over the running service.
type ExtensionHooks struct {
	mu sync.RWMutex

	sinkPacks    map[string]RecordSinkPack
	handlerPacks map[string]JobHandlerPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		sinkPacks:    map[string]RecordSinkPack{},
		handlerPacks: map[string]JobHandlerPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterRecordSinkPack(pack RecordSinkPack) error {
	if h == nil {
		return fmt.Errorf("appstoreconnect: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("appstoreconnect: record sink pack name is required")
	}
	if len(pack.Sinks) == 0 {
		return fmt.Errorf("appstoreconnect: record sink pack %q has no sinks", name)
	}
	for _, sink := range pack.Sinks {
		if sink == nil {
			return fmt.Errorf("appstoreconnect: record sink pack %q contains nil sink", name)
		}
	}

	normalized := RecordSinkPack{
		Name:  name,
		Sinks: append([]core.RecordSink(nil), pack.Sinks...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sinkPacks[name]; exists {
		return fmt.Errorf("appstoreconnect: record sink pack %q already registered", name)
	}
	h.sinkPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterJobHandlerPack(pack JobHandlerPack) error {
	if h == nil {
		return fmt.Errorf("appstoreconnect: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("appstoreconnect: job handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("appstoreconnect: job handler pack %q has no handlers", name)
	}

	normalized := JobHandlerPack{
		Name:     name,
		Handlers: make(map[string]jobs.Handler, len(pack.Handlers)),
	}
	for jobID, handler := range pack.Handlers {
		jobID = strings.TrimSpace(jobID)
		if jobID == "" {
			return fmt.Errorf("appstoreconnect: job handler pack %q has a blank job id", name)
		}
		if handler == nil {
			return fmt.Errorf("appstoreconnect: job handler pack %q handler for %s is nil", name, jobID)
		}
		normalized.Handlers[jobID] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("appstoreconnect: job handler pack %q already registered", name)
	}
	h.handlerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("appstoreconnect: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("appstoreconnect: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("appstoreconnect: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("appstoreconnect: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// RecordSinks flattens the registered packs in pack-name order.
func (h *ExtensionHooks) RecordSinks() []core.RecordSink {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.sinkPacks))
	for name := range h.sinkPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []core.RecordSink{}
	for _, name := range names {
		out = append(out, h.sinkPacks[name].Sinks...)
	}
	return out
}

// JobHandlers merges the registered packs into one job id to handler map. Two
// packs claiming the same job id is a wiring mistake and fails loudly.
func (h *ExtensionHooks) JobHandlers() (map[string]jobs.Handler, error) {
	if h == nil {
		return map[string]jobs.Handler{}, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	claimed := map[string]string{}
	out := map[string]jobs.Handler{}
	for _, name := range names {
		pack := h.handlerPacks[name]
		for jobID, handler := range pack.Handlers {
			if owner, exists := claimed[jobID]; exists {
				return nil, fmt.Errorf(
					"appstoreconnect: job id %s claimed by packs %q and %q",
					jobID, owner, name,
				)
			}
			claimed[jobID] = name
			out[jobID] = handler
		}
	}
	return out, nil
}

// ApplyJobHandlers registers every pack handler on the worker in job id order.
func (h *ExtensionHooks) ApplyJobHandlers(worker *jobs.Worker) error {
	if h == nil {
		return nil
	}
	if worker == nil {
		return fmt.Errorf("appstoreconnect: maintenance worker is required")
	}
	handlers, err := h.JobHandlers()
	if err != nil {
		return err
	}
	jobIDs := make([]string, 0, len(handlers))
	for jobID := range handlers {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Strings(jobIDs)
	for _, jobID := range jobIDs {
		worker.Register(jobID, handlers[jobID])
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("appstoreconnect: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) SinkPackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.sinkPacks))
	for name := range h.sinkPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
