package logger

import "time"

// SamplingConfig 采样配置，聊天消息量大时避免刷屏
type SamplingConfig struct {
	Tick       time.Duration // 统计周期，默认 1s
	Initial    int           // 每个周期内前 N 条必定记录
	Thereafter int           // 之后每 M 条记录 1 条
}

func (s *SamplingConfig) setDefaults() {
	if s.Tick == 0 {
		s.Tick = time.Second
	}
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}
