package soulseek

import "go.uber.org/zap"

func zapErrorField(err error) zap.Field {
	return zap.Error(err)
}
