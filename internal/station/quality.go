package station

import (
	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/types"
)

// Inspect 质检门
// 有效合格率 = 基础合格率 × 效率；关键工站再抽一次，落入条件合格区间的记为 conditional_pass
// 返回质检结果和本次抽取的分值
func Inspect(spec *types.StationSpec, efficiency, conditionalRate float64, src rng.Source) (types.QualityStatus, float64) {
	effective := spec.PassRate * efficiency
	if effective <= 0 {
		return types.QualityFail, 0
	}
	score := src.Float64()
	if score >= effective {
		return types.QualityFail, score
	}
	if spec.Critical && rng.Bernoulli(src, conditionalRate) {
		return types.QualityConditionalPass, score
	}
	return types.QualityPass, score
}
