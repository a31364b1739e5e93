package logger

// Config 日志配置
type Config struct {
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // json/console（默认 json）

	Console bool          // 输出到控制台
	File    string        // 输出到文件（不轮转）
	Rotate  *RotateConfig // 轮转输出

	Sampling *SamplingConfig // nil 则不采样

	EnableCaller     bool
	EnableStacktrace bool // Error 及以上记录堆栈
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 没有任何输出时默认控制台
	if !c.Console && c.File == "" && (c.Rotate == nil || c.Rotate.Filename == "") {
		c.Console = true
	}
}
