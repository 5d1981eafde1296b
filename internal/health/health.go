// Package health 负责启动诊断和健康快照上报。
package health

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Report 是启动诊断的结果。
type Report struct {
	plugin.HealthStatus
	// EnvWarnings 记录运行环境问题，例如 TESSDATA_PREFIX 配置错误。
	EnvWarnings []string `json:"env_warnings,omitempty"`
}

// ValidateAtStartup 读取注册表状态并记录日志。它从不修改注册表，也从不
// 返回错误：空的 OCR 或提取器注册表只会产生警告。
func ValidateAtStartup(regs *plugin.Registries) Report {
	log := logger.Named("health")
	rep := Report{HealthStatus: regs.Health(), EnvWarnings: checkEnvironment(os.LookupEnv)}

	log.Info("插件注册表状态",
		slog.Int("ocr_backends", rep.OcrBackendCount),
		slog.Int("extractors", rep.ExtractorCount),
		slog.Int("post_processors", rep.PostProcessorCount),
		slog.Int("validators", rep.ValidatorCount))
	if rep.OcrBackendCount > 0 {
		log.Info("已注册 OCR 后端", slog.String("names", strings.Join(rep.OcrBackends, ", ")))
	}
	if rep.ExtractorCount > 0 {
		log.Info("已注册文档提取器", slog.String("names", strings.Join(rep.Extractors, ", ")))
	}
	if rep.PostProcessorCount > 0 {
		log.Info("已注册后处理器", slog.String("names", strings.Join(rep.PostProcessors, ", ")))
	}
	if rep.ValidatorCount > 0 {
		log.Info("已注册校验器", slog.String("names", strings.Join(rep.Validators, ", ")))
	}
	for _, w := range rep.Warnings {
		log.Warn(w)
	}
	for _, w := range rep.EnvWarnings {
		log.Warn(w)
	}
	for _, name := range rep.PoisonedRegistries {
		log.Error("注册表处于不一致状态", slog.String("capability", name))
	}
	return rep
}

// checkEnvironment 检查 TESSDATA_PREFIX 是否指向一个存在的目录。
func checkEnvironment(lookup func(string) (string, bool)) []string {
	prefix, ok := lookup("TESSDATA_PREFIX")
	if !ok || prefix == "" {
		return nil
	}
	info, err := os.Stat(prefix)
	if err != nil || !info.IsDir() {
		return []string{"TESSDATA_PREFIX 指向的目录不存在: " + prefix}
	}
	matches, _ := filepath.Glob(filepath.Join(prefix, "*.traineddata"))
	if len(matches) == 0 {
		return []string{"TESSDATA_PREFIX 目录中没有 .traineddata 文件: " + prefix}
	}
	return nil
}
