package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"assembly-line-sim/internal/types"
)

// EntryType 日志记录的类型
type EntryType string

const (
	EntryCompleted  EntryType = "COMPLETED"  // 整车下线
	EntryScrapped   EntryType = "SCRAPPED"   // 工件报废
	EntryDisruption EntryType = "DISRUPTION" // 外部扰动生效
)

// Entry 代表生产日志中的一条记录
type Entry struct {
	Type        EntryType            `json:"type"`
	RunID       string               `json:"run_id,omitempty"`
	Tick        int64                `json:"tick"`
	StationID   types.StationID      `json:"station_id,omitempty"`
	WIPID       string               `json:"wip_id,omitempty"`
	Vehicle     *types.Vehicle       `json:"vehicle,omitempty"`
	Order       types.WorkOrder      `json:"work_order,omitempty"`
	ReworkCount int                  `json:"rework_count,omitempty"`
	Disruption  types.DisruptionKind `json:"disruption,omitempty"`
	Duration    int64                `json:"duration_ticks,omitempty"`
}

// Journal 追加写入的生产日志 (JSON Lines)，用于事后统计和审计
type Journal struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// Open 创建或打开一个日志文件
func Open(path string) (*Journal, error) {
	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{file: file}, nil
}

// Append 写入一条记录
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// 写入数据并在末尾添加换行符
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Close 刷盘并关闭日志文件
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Summary 一个日志文件的统计结果
type Summary struct {
	Runs             []string                `yaml:"runs" json:"runs"`
	LastTick         int64                   `yaml:"last_tick" json:"last_tick"`
	Completed        int                     `yaml:"completed" json:"completed"`
	Scrapped         int                     `yaml:"scrapped" json:"scrapped"`
	Disruptions      int                     `yaml:"disruptions" json:"disruptions"`
	CompletedByModel map[string]int          `yaml:"completed_by_model" json:"completed_by_model"`
	ScrapByStation   map[types.StationID]int `yaml:"scrap_by_station" json:"scrap_by_station"`
	ReworkedUnits    int                     `yaml:"reworked_units" json:"reworked_units"` // 下线车辆中曾返工的数量
	CorruptLines     int                     `yaml:"corrupt_lines" json:"corrupt_lines"`
}

// Summarize 读取日志文件并汇总，损坏的行计数后跳过
func Summarize(path string) (*Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	s := &Summary{
		CompletedByModel: make(map[string]int),
		ScrapByStation:   make(map[types.StationID]int),
	}
	runs := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			s.CorruptLines++
			continue
		}
		if e.RunID != "" && !runs[e.RunID] {
			runs[e.RunID] = true
			s.Runs = append(s.Runs, e.RunID)
		}
		if e.Tick > s.LastTick {
			s.LastTick = e.Tick
		}
		switch e.Type {
		case EntryCompleted:
			s.Completed++
			if e.Vehicle != nil {
				s.CompletedByModel[e.Vehicle.Model]++
			}
			if e.ReworkCount > 0 {
				s.ReworkedUnits++
			}
		case EntryScrapped:
			s.Scrapped++
			s.ScrapByStation[e.StationID]++
		case EntryDisruption:
			s.Disruptions++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	sort.Strings(s.Runs)
	return s, nil
}
