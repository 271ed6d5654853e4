package client

import "github.com/niss337/securechat/lib/util/logger"

var log = logger.GetChatLogger()
