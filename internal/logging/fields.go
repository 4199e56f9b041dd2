package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// HandleFields 描述一次代理文件操作：句柄、文件名与访问模式。
func HandleFields(handleID, name, mode string) logrus.Fields {
	return logrus.Fields{
		"handle": handleID,
		"file":   name,
		"mode":   mode,
	}
}

// SlotFields 描述缓存槽位及其绑定的区域，供引擎的回写/淘汰日志复用。
func SlotFields(slot int, name string, offset int64, length int, dirty bool) logrus.Fields {
	return logrus.Fields{
		"slot":   slot,
		"file":   name,
		"offset": offset,
		"length": length,
		"dirty":  dirty,
	}
}
