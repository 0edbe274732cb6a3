package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供抓取流程的 url/分类字段，供下载日志复用。
func FetchFields(url, category string, force bool) logrus.Fields {
	return logrus.Fields{
		"url":      url,
		"category": category,
		"force":    force,
	}
}
