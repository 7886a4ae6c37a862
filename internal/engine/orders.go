package engine

import (
	"fmt"
	"log/slog"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"assembly-line-sim/internal/types"
)

// orderRule 编译好的作业指令规则
type orderRule struct {
	kind    types.WorkOrder
	source  string
	program *vm.Program
}

// orderRouter 按规则顺序决定新工件的作业指令类型，第一条命中的规则生效，全部未命中为 normal
// 规则环境: vehicle (车辆身份) 和 tick，例如 `vehicle.Model == "PALISADE"`
type orderRouter struct {
	rules  []orderRule
	logger *slog.Logger
}

func ruleEnv(v types.Vehicle, tick int64) map[string]interface{} {
	return map[string]interface{}{"vehicle": v, "tick": tick}
}

// compileOrderRules 启动时编译全部规则，任一规则不合法都会阻止产线启动
func compileOrderRules(rules []types.OrderRule, logger *slog.Logger) (*orderRouter, error) {
	r := &orderRouter{logger: logger.With("component", "order_router")}
	for i, rule := range rules {
		kind, err := types.ParseWorkOrder(rule.Kind)
		if err != nil {
			return nil, fmt.Errorf("work order rule %d: %w", i, err)
		}
		program, err := expr.Compile(rule.Rule, expr.Env(ruleEnv(types.Vehicle{}, 0)), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("work order rule %d compilation failed: %w", i, err)
		}
		r.rules = append(r.rules, orderRule{kind: kind, source: rule.Rule, program: program})
	}
	return r, nil
}

// ValidateOrderRules 只做编译检查，供配置校验使用
func ValidateOrderRules(rules []types.OrderRule) error {
	_, err := compileOrderRules(rules, slog.Default())
	return err
}

// Kind 返回新工件的作业指令类型
func (r *orderRouter) Kind(v types.Vehicle, tick int64) types.WorkOrder {
	if r == nil {
		return types.OrderNormal
	}
	env := ruleEnv(v, tick)
	for _, rule := range r.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			r.logger.Error("作业指令规则执行失败", "error", err, "rule", rule.source)
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return rule.kind
		}
	}
	return types.OrderNormal
}
