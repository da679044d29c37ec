package master

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// RepairQueue is the interface the doctor drains when repair mode is
// armed. A concrete implementation, backed by whatever persisted list of
// blocks an operator wants re-indexed, lives outside this module.
type RepairQueue interface {
	Pop(ctx context.Context) (blockNum int64, ok bool, err error)
}

// RepairRule describes one entry of a repair-rules file: a block range to
// re-run through the deserialize/index path and why.
type RepairRule struct {
	FirstBlock int64  `yaml:"first_block"`
	LastBlock  int64  `yaml:"last_block"`
	Reason     string `yaml:"reason"`
}

// Doctor runs the repair-queue drain. It is wired into the Message
// Router's completed{id} branch through SetDoctorCompletedHook, but per
// spec the doctor id is never armed in normal operation: a nil doctor id
// means that branch is permanently unreachable and Reconcile is never
// called. The type exists so the wiring is complete, not so repair mode
// can be turned on casually.
type Doctor struct {
	chain  string
	queue  RepairQueue
	rules  []RepairRule
	logger *slog.Logger
}

// NewDoctor creates a doctor bound to queue. queue may be nil, in which
// case Reconcile is a no-op.
func NewDoctor(chain string, queue RepairQueue, logger *slog.Logger) *Doctor {
	return &Doctor{chain: chain, queue: queue, logger: logger.With("component", "doctor")}
}

// LoadRepairRules reads a YAML file of repair rules into the doctor. An
// empty path is a no-op, matching repair mode being disabled by default.
func (d *Doctor) LoadRepairRules(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("doctor: read repair rules: %w", err)
	}

	var rules []RepairRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("doctor: parse repair rules: %w", err)
	}

	d.rules = rules
	d.logger.Info("repair rules loaded", "count", len(rules), "path", path)
	return nil
}

// Rules returns the loaded repair rules, for diagnostics.
func (d *Doctor) Rules() []RepairRule { return d.rules }

// Reconcile drains one entry from the repair queue, if any is pending.
func (d *Doctor) Reconcile(ctx context.Context) error {
	if d.queue == nil {
		return nil
	}

	blockNum, ok, err := d.queue.Pop(ctx)
	if err != nil {
		return fmt.Errorf("doctor: pop repair queue: %w", err)
	}
	if !ok {
		return nil
	}

	d.logger.Info("repair queue drained one entry", "chain", d.chain, "block_num", blockNum)
	return nil
}
