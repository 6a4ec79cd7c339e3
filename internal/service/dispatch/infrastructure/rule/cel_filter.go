// internal/service/dispatch/infrastructure/rule/cel_filter.go
package rule

import (
	"fmt"

	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/google/cel-go/cel"
)

// CELOrderFilter 是 port.OrderFilter 的 CEL 实现。
// 表达式里通过 order.<field> 访问订单，例如 order.branchId == "north"。
type CELOrderFilter struct {
	expr string
	prg  cel.Program
}

// NewCELOrderFilter 编译表达式；语法错误或结果不是 bool 时返回错误
func NewCELOrderFilter(expr string) (*CELOrderFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile eligibility rule: %w", iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("eligibility rule must evaluate to bool, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELOrderFilter{expr: expr, prg: prg}, nil
}

var _ port.OrderFilter = (*CELOrderFilter)(nil)

func (f *CELOrderFilter) Match(order *domain.Order) (bool, error) {
	val, _, err := f.prg.Eval(map[string]any{"order": orderFacts(order)})
	if err != nil {
		return false, fmt.Errorf("evaluate eligibility rule for order %s: %w", order.ID, err)
	}
	ok, isBool := val.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("eligibility rule returned %T for order %s", val.Value(), order.ID)
	}
	return ok, nil
}

func (f *CELOrderFilter) String() string {
	return f.expr
}

// orderFacts 把订单展开成规则可见的字段
func orderFacts(o *domain.Order) map[string]any {
	quantity := 0
	for _, it := range o.Items {
		quantity += it.Quantity
	}
	return map[string]any{
		"id":            o.ID,
		"customerId":    o.CustomerID,
		"branchId":      o.BranchID,
		"status":        domain.NormalizeStatus(o.Status),
		"departureDay":  o.DepartureDay(),
		"itemCount":     int64(len(o.Items)),
		"totalQuantity": int64(quantity),
	}
}
