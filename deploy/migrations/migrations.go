// Package migrations 内嵌注册表事件审计库的 SQL 迁移文件。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，按文件名前缀的版本号依次执行。
//
//go:embed *.sql
var Files embed.FS
