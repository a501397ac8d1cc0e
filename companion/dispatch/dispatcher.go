package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/profile"
	"github.com/BaSui01/aura/companion/tasks"
	"github.com/BaSui01/aura/types"
)

const instrumentationName = "github.com/BaSui01/aura/companion/dispatch"

// Recorder 工具调用指标钩子，由 internal/metrics.Collector 实现。
type Recorder interface {
	RecordToolCall(tool string, handled, success bool, duration time.Duration)
	RecordUnrecognizedAction(tool, raw string)
}

type nopRecorder struct{}

func (nopRecorder) RecordToolCall(string, bool, bool, time.Duration) {}
func (nopRecorder) RecordUnrecognizedAction(string, string)          {}

// Handler 工具调用处理器。
type Handler interface {
	Dispatch(ctx context.Context, call ToolCall) Response
}

// Option 调度器选项。
type Option func(*Dispatcher)

// WithTaskStore 挂载任务存储，启用 manage_burnout。
func WithTaskStore(store *tasks.Store) Option {
	return func(d *Dispatcher) { d.tasks = store }
}

// WithSlot 挂载干预槽位，启用 elder 工具。
func WithSlot(slot *intervention.Slot) Option {
	return func(d *Dispatcher) { d.slot = slot }
}

// WithProfile 设置用户档案，用于生成确认消息。
func WithProfile(p profile.Profile) Option {
	return func(d *Dispatcher) { d.profile = p }
}

// WithRecorder 设置指标钩子。
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if !types.IsNil(r) {
			d.recorder = r
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher 工具调度器。
type Dispatcher struct {
	tasks    *tasks.Store
	slot     *intervention.Slot
	profile  profile.Profile
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New 创建调度器。
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "tool_dispatcher"))
	return d
}

// Tools 当前可用的工具名。
func (d *Dispatcher) Tools() []string {
	var names []string
	if d.tasks != nil {
		names = append(names, ToolManageBurnout)
	}
	if d.slot != nil {
		names = append(names, ToolShowPhotoAlbum, ToolPlayMusic, ToolNotifyFamily, ToolProvideOrientation, ToolStartCalmActivity)
	}
	return names
}

// Dispatch 执行一次工具调用，从不返回错误。
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) Response {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "companion.tool_call",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.CallID),
		))
	defer span.End()

	resp := d.dispatch(ctx, call)
	resp.Tool = call.Name
	resp.CallID = call.CallID

	span.SetAttributes(
		attribute.Bool("tool.handled", resp.Handled),
		attribute.Bool("tool.success", resp.Success),
	)
	if resp.Handled && !resp.Success {
		span.SetStatus(codes.Error, resp.Content)
	}
	d.recorder.RecordToolCall(call.Name, resp.Handled, resp.Success, time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, call ToolCall) Response {
	raw, err := ParseParameters(call.Parameters)
	if err != nil {
		d.logger.Warn("malformed tool parameters, using empty params",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.CallID),
			zap.Error(err),
		)
	}

	params, ok := Decode(call.Name, raw)
	if !ok {
		d.logger.Warn("unknown tool", zap.String("tool", call.Name), zap.String("tool_call_id", call.CallID))
		return Response{Handled: false}
	}

	switch p := params.(type) {
	case BurnoutParams:
		if d.tasks == nil {
			d.logger.Warn("tool not available in this session", zap.String("tool", call.Name))
			return Response{Handled: false}
		}
		return d.manageBurnout(ctx, call, p)
	default:
		if d.slot == nil {
			d.logger.Warn("tool not available in this session", zap.String("tool", call.Name))
			return Response{Handled: false}
		}
		return d.intervene(p)
	}
}

func (d *Dispatcher) manageBurnout(ctx context.Context, call ToolCall, p BurnoutParams) Response {
	if !p.Recognized {
		d.logger.Warn("unrecognized task action, falling back to postpone",
			zap.String("raw_action", p.RawAction),
			zap.String("task_id", p.TaskID),
		)
		d.recorder.RecordUnrecognizedAction(call.Name, p.RawAction)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("tool.unrecognized_action", p.RawAction))
	}

	res := d.tasks.Apply(p.TaskID, p.Action)
	d.logger.Info("task tool executed",
		zap.String("task_id", p.TaskID),
		zap.String("action", string(p.Action)),
		zap.Bool("success", res.Success),
	)
	return Response{Handled: true, Success: res.Success, Content: res.Message}
}

func (d *Dispatcher) intervene(p Params) Response {
	kind, params, _ := Intervention(p)
	if err := d.slot.Trigger(kind, params); err != nil {
		d.logger.Warn("trigger intervention failed", zap.String("type", string(kind)), zap.Error(err))
		return Response{Handled: true, Success: false, Content: "I couldn't do that right now."}
	}
	return Response{Handled: true, Success: true, Content: d.confirmation(p)}
}

func (d *Dispatcher) confirmation(p Params) string {
	switch v := p.(type) {
	case PhotoParams:
		if v.FamilyMember == "" {
			return "Showing the family photo album."
		}
		if m, ok := d.profile.FindMember(v.FamilyMember); ok {
			return fmt.Sprintf("Showing photos of %s.", m.Name)
		}
		return fmt.Sprintf("Showing photos of %s.", v.FamilyMember)
	case MusicParams:
		if v.Preference == "" {
			return "Playing some favorite music."
		}
		return fmt.Sprintf("Playing %s music.", v.Preference)
	case AlertParams:
		who := v.FamilyMember
		if who == "" {
			who = "the family"
		} else if m, ok := d.profile.FindMember(who); ok {
			who = fmt.Sprintf("%s (%s)", m.Name, strings.ToLower(m.Relation))
		}
		return fmt.Sprintf("Notified %s with %s urgency.", who, v.Urgency)
	case OrientationParams:
		return fmt.Sprintf("Providing gentle orientation about %s.", v.Context)
	case ActivityParams:
		if v.Activity == "" {
			return "Starting a calm activity."
		}
		return fmt.Sprintf("Starting a calm activity: %s.", v.Activity)
	}
	return ""
}

// HandlerFunc 函数适配器。
type HandlerFunc func(ctx context.Context, call ToolCall) Response

// Dispatch 实现 Handler。
func (f HandlerFunc) Dispatch(ctx context.Context, call ToolCall) Response {
	return f(ctx, call)
}
