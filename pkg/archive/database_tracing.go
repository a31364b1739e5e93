package archive

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tokmz/relay/pkg/tracing"
)

// tracingPlugin 为归档写入和历史查询创建 Span
type tracingPlugin struct{}

func newTracingPlugin() *tracingPlugin { return &tracingPlugin{} }

func (p *tracingPlugin) Name() string { return "relay:tracing" }

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("relay:before_create", p.before("archive.insert")); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register("relay:after_create", p.after); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register("relay:before_query", p.before("archive.query")); err != nil {
		return err
	}
	return db.Callback().Query().After("gorm:query").Register("relay:after_query", p.after)
}

func (p *tracingPlugin) before(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx, _ := tracing.StartSpan(db.Statement.Context, op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("db.system", db.Dialector.Name())),
		)
		db.Statement.Context = ctx
	}
}

func (p *tracingPlugin) after(db *gorm.DB) {
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		tracing.RecordError(span, db.Error)
	}
}
