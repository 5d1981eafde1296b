package hosting

import (
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

// withOverrides 让清单中的名称、优先级、阶段与 MIME 类型覆盖外部对象自报
// 的值。清单名称始终生效，保证 Manager 能按名称卸载。
func withOverrides(p plugin.Plugin, name string, cfg plugin.PluginConfig) plugin.Plugin {
	switch v := p.(type) {
	case plugin.DocumentExtractor:
		return &extractorOverride{DocumentExtractor: v, name: name, priority: cfg.Priority, mimeTypes: cfg.MimeTypes}
	case plugin.OcrBackend:
		return &ocrOverride{OcrBackend: v, name: name, priority: cfg.Priority, languages: cfg.Languages}
	case plugin.PostProcessor:
		o := &processorOverride{PostProcessor: v, name: name, priority: cfg.Priority}
		if cfg.Stage != "" {
			st := cfg.StageOrDefault()
			o.stage = &st
		}
		return o
	case plugin.Validator:
		return &validatorOverride{Validator: v, name: name, priority: cfg.Priority}
	}
	return p
}

func priorityOr(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

type extractorOverride struct {
	plugin.DocumentExtractor
	name      string
	priority  *int
	mimeTypes []string
}

func (o *extractorOverride) Name() string  { return o.name }
func (o *extractorOverride) Priority() int { return priorityOr(o.priority, o.DocumentExtractor.Priority()) }

func (o *extractorOverride) SupportedMimeTypes() []string {
	if len(o.mimeTypes) > 0 {
		return o.mimeTypes
	}
	return o.DocumentExtractor.SupportedMimeTypes()
}

type ocrOverride struct {
	plugin.OcrBackend
	name      string
	priority  *int
	languages []string
}

func (o *ocrOverride) Name() string  { return o.name }
func (o *ocrOverride) Priority() int { return priorityOr(o.priority, o.OcrBackend.Priority()) }

func (o *ocrOverride) SupportedLanguages() []string {
	if len(o.languages) > 0 {
		return o.languages
	}
	return o.OcrBackend.SupportedLanguages()
}

type processorOverride struct {
	plugin.PostProcessor
	name     string
	priority *int
	stage    *plugin.Stage
}

func (o *processorOverride) Name() string  { return o.name }
func (o *processorOverride) Priority() int { return priorityOr(o.priority, o.PostProcessor.Priority()) }

func (o *processorOverride) Stage() plugin.Stage {
	if o.stage != nil {
		return *o.stage
	}
	return o.PostProcessor.Stage()
}

// ShouldProcess 转发给被包装的对象，嵌入接口会丢失这一可选方法。
func (o *processorOverride) ShouldProcess(result *extraction.Result, cfg *extraction.Config) bool {
	if gate, ok := o.PostProcessor.(plugin.ProcessGate); ok {
		return gate.ShouldProcess(result, cfg)
	}
	return true
}

type validatorOverride struct {
	plugin.Validator
	name     string
	priority *int
}

func (o *validatorOverride) Name() string  { return o.name }
func (o *validatorOverride) Priority() int { return priorityOr(o.priority, o.Validator.Priority()) }
