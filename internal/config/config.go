package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"assembly-line-sim/internal/station"
	"assembly-line-sim/internal/types"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	Seed             int64               `mapstructure:"seed"`
	TickIntervalMs   int                 `mapstructure:"tick_interval_ms"` // 每个 tick 的墙钟间隔，0 表示不限速
	MaxTicks         int64               `mapstructure:"max_ticks"`        // 0 表示一直运行
	ParallelEvaluate bool                `mapstructure:"parallel_evaluate"`
	HTTPAddr         string              `mapstructure:"http_addr"`
	JournalPath      string              `mapstructure:"journal_path"` // 为空表示不写下线日志
	Production       ProductionConfig    `mapstructure:"production"`
	Policy           PolicyConfig        `mapstructure:"policy"`
	Stations         []types.StationSpec `mapstructure:"stations"`
	WorkOrders       []types.OrderRule   `mapstructure:"work_orders"`
	MQTT             MQTTConfig          `mapstructure:"mqtt"`
	Forward          ForwardConfig       `mapstructure:"forward"`
	Supply           SupplyConfig        `mapstructure:"supply"`
}

// ProductionConfig 产量目标和仿真时间换算
type ProductionConfig struct {
	DailyTarget    int     `mapstructure:"daily_target"`
	ShiftSeconds   float64 `mapstructure:"shift_seconds"`
	ShiftsPerDay   int     `mapstructure:"shifts_per_day"`
	SecondsPerTick float64 `mapstructure:"seconds_per_tick"`
}

// PolicyConfig 故障、保养和效率策略
type PolicyConfig struct {
	MaintenanceIntervalTicks int64       `mapstructure:"maintenance_interval_ticks"`
	MaintenanceChance        float64     `mapstructure:"maintenance_chance"`
	MaintenanceDuration      types.Range `mapstructure:"maintenance_duration"`
	RepairDuration           types.Range `mapstructure:"repair_duration"`
	InitialEfficiency        types.Range `mapstructure:"initial_efficiency"`
	RepairEfficiency         types.Range `mapstructure:"repair_efficiency"`
	MaintenanceEfficiency    types.Range `mapstructure:"maintenance_efficiency"`
	ConditionalPassRate      float64     `mapstructure:"conditional_pass_rate"`
}

// MQTTConfig 遥测发布与零部件信号订阅
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Broker         string `mapstructure:"broker"`
	ClientID       string `mapstructure:"client_id"`
	TopicPrefix    string `mapstructure:"topic_prefix"`
	QoS            byte   `mapstructure:"qos"`
	PublishEvery   int64  `mapstructure:"publish_every"` // 每隔多少个 tick 发布一次工站状态
	SubscribeParts bool   `mapstructure:"subscribe_parts"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
}

// ForwardConfig 将产线状态转发到看板后端
type ForwardConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	EveryTicks int64  `mapstructure:"every_ticks"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
	MaxRetries uint64 `mapstructure:"max_retries"`
}

// SupplyConfig 供应链缺料模拟
type SupplyConfig struct {
	Enabled          bool        `mapstructure:"enabled"`
	IntervalMs       int         `mapstructure:"interval_ms"`       // 每轮检查的墙钟间隔
	ShortageChance   float64     `mapstructure:"shortage_chance"`   // 每轮每个工站发生缺料的概率
	ResupplyDuration types.Range `mapstructure:"resupply_duration"` // 补货所需轮数
	MaxShortages     int         `mapstructure:"max_shortages"`     // 同时缺料的工站上限，0 表示不限
}

// TickInterval 墙钟节拍
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// StationPolicy 转换为工站策略
func (c *Config) StationPolicy() station.Policy {
	p := c.Policy
	return station.Policy{
		MaintenanceInterval:   p.MaintenanceIntervalTicks,
		MaintenanceChance:     p.MaintenanceChance,
		MaintenanceDuration:   p.MaintenanceDuration,
		RepairDuration:        p.RepairDuration,
		InitialEfficiency:     p.InitialEfficiency,
		RepairEfficiency:      p.RepairEfficiency,
		MaintenanceEfficiency: p.MaintenanceEfficiency,
		ConditionalPassRate:   p.ConditionalPassRate,
	}
}

// StationSpecs 配置中的工站列表，未配置时使用默认的 15 工站总装线
func (c *Config) StationSpecs() []types.StationSpec {
	if len(c.Stations) == 0 {
		return DefaultStations()
	}
	return c.Stations
}

// LoadConfig 从配置文件加载配置；path 为空时在当前目录查找 config.yaml，找不到则全部使用默认值
// 环境变量 LINESIM_* 覆盖文件中的值，例如 LINESIM_MQTT_BROKER
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LINESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名称 (不带扩展名)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &cfg, nil
}

// Default 不读取任何文件的默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("seed", 42)
	v.SetDefault("tick_interval_ms", 100)
	v.SetDefault("max_ticks", 0)
	v.SetDefault("parallel_evaluate", false)
	v.SetDefault("http_addr", ":8090")
	v.SetDefault("journal_path", "")

	// 480 台/天，三班倒，每班 8 小时，1 tick = 1 秒
	v.SetDefault("production.daily_target", 480)
	v.SetDefault("production.shift_seconds", 8*3600)
	v.SetDefault("production.shifts_per_day", 3)
	v.SetDefault("production.seconds_per_tick", 1.0)

	v.SetDefault("policy.maintenance_interval_ticks", 7*24*3600)
	v.SetDefault("policy.maintenance_chance", 0.1)
	v.SetDefault("policy.maintenance_duration.min", 1800)
	v.SetDefault("policy.maintenance_duration.max", 7200)
	v.SetDefault("policy.repair_duration.min", 300)
	v.SetDefault("policy.repair_duration.max", 1800)
	v.SetDefault("policy.initial_efficiency.min", 0.85)
	v.SetDefault("policy.initial_efficiency.max", 0.95)
	v.SetDefault("policy.repair_efficiency.min", 0.80)
	v.SetDefault("policy.repair_efficiency.max", 0.95)
	v.SetDefault("policy.maintenance_efficiency.min", 0.90)
	v.SetDefault("policy.maintenance_efficiency.max", 0.98)
	v.SetDefault("policy.conditional_pass_rate", 0.05)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "linesim")
	v.SetDefault("mqtt.topic_prefix", "factory")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.publish_every", 5)
	v.SetDefault("mqtt.subscribe_parts", true)
	v.SetDefault("mqtt.timeout_ms", 2000)

	v.SetDefault("forward.enabled", false)
	v.SetDefault("forward.base_url", "http://localhost:8080")
	v.SetDefault("forward.every_ticks", 30)
	v.SetDefault("forward.timeout_ms", 5000)
	v.SetDefault("forward.max_retries", 3)

	v.SetDefault("supply.enabled", false)
	v.SetDefault("supply.interval_ms", 1000)
	v.SetDefault("supply.shortage_chance", 0.002)
	v.SetDefault("supply.resupply_duration.min", 5)
	v.SetDefault("supply.resupply_duration.max", 30)
	v.SetDefault("supply.max_shortages", 2)
}

// Validate 校验与依赖图无关的配置项，依赖图本身在构造时校验
func (c *Config) Validate() error {
	var errs []error
	p := c.Production
	if p.DailyTarget <= 0 || p.ShiftSeconds <= 0 || p.ShiftsPerDay <= 0 || p.SecondsPerTick <= 0 {
		errs = append(errs, fmt.Errorf("production: target, shift length, shifts per day and seconds per tick must be positive"))
	}
	if c.TickIntervalMs < 0 || c.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("tick_interval_ms and max_ticks must not be negative"))
	}

	pol := c.Policy
	if pol.MaintenanceIntervalTicks < 0 {
		errs = append(errs, fmt.Errorf("policy.maintenance_interval_ticks must not be negative"))
	}
	if !probability(pol.MaintenanceChance) || !probability(pol.ConditionalPassRate) {
		errs = append(errs, fmt.Errorf("policy: maintenance_chance and conditional_pass_rate must be within [0,1]"))
	}
	for name, r := range map[string]types.Range{
		"maintenance_duration": pol.MaintenanceDuration,
		"repair_duration":      pol.RepairDuration,
	} {
		if !r.Valid() || r.Min < 1 {
			errs = append(errs, fmt.Errorf("policy.%s: need 1 <= min <= max, got %+v", name, r))
		}
	}
	for name, r := range map[string]types.Range{
		"initial_efficiency":     pol.InitialEfficiency,
		"repair_efficiency":      pol.RepairEfficiency,
		"maintenance_efficiency": pol.MaintenanceEfficiency,
	} {
		if !r.Valid() || r.Min <= 0 || r.Max > 1 {
			errs = append(errs, fmt.Errorf("policy.%s: need 0 < min <= max <= 1, got %+v", name, r))
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	if c.Forward.Enabled && (c.Forward.BaseURL == "" || c.Forward.EveryTicks <= 0) {
		errs = append(errs, fmt.Errorf("forward: base_url and a positive every_ticks are required"))
	}
	if c.Supply.Enabled {
		if c.Supply.IntervalMs <= 0 || c.Supply.MaxShortages < 0 {
			errs = append(errs, fmt.Errorf("supply: interval_ms must be positive and max_shortages not negative"))
		}
		if !probability(c.Supply.ShortageChance) {
			errs = append(errs, fmt.Errorf("supply.shortage_chance must be within [0,1]"))
		}
		if !c.Supply.ResupplyDuration.Valid() || c.Supply.ResupplyDuration.Min < 1 {
			errs = append(errs, fmt.Errorf("supply.resupply_duration: need 1 <= min <= max"))
		}
	}
	return errors.Join(errs...)
}

func probability(p float64) bool { return p >= 0 && p <= 1 }
