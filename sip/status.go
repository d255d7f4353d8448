package sip

// Request methods.
const (
	MethodAck       = "ACK"
	MethodBye       = "BYE"
	MethodCancel    = "CANCEL"
	MethodInfo      = "INFO"
	MethodInvite    = "INVITE"
	MethodMessage   = "MESSAGE"
	MethodNotify    = "NOTIFY"
	MethodOptions   = "OPTIONS"
	MethodPrack     = "PRACK"
	MethodPublish   = "PUBLISH"
	MethodRefer     = "REFER"
	MethodRegister  = "REGISTER"
	MethodSubscribe = "SUBSCRIBE"
	MethodUpdate    = "UPDATE"
)

// Response status codes.
const (
	StatusTrying          = 100
	StatusRinging         = 180
	StatusSessionProgress = 183

	StatusOK       = 200
	StatusAccepted = 202

	StatusMovedTemporarily = 302

	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusProxyAuthenticationRequired = 407
	StatusRequestTimeout              = 408
	StatusTemporarilyUnavailable      = 480
	StatusCallTransactionDoesNotExist = 481
	StatusBusyHere                    = 486
	StatusRequestTerminated           = 487

	StatusServerInternalError = 500
	StatusNotImplemented      = 501
	StatusServiceUnavailable  = 503

	StatusBusyEverywhere = 600
	StatusDecline        = 603
)

var statusText = map[int]string{
	100: "Trying",
	180: "Ringing",
	181: "Call Is Being Forwarded",
	182: "Queued",
	183: "Session Progress",

	200: "OK",
	202: "Accepted",
	204: "No Notification",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	305: "Use Proxy",
	380: "Alternative Service",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	412: "Conditional Request Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Unsupported URI Scheme",
	420: "Bad Extension",
	421: "Extension Required",
	422: "Session Interval Too Small",
	423: "Interval Too Brief",
	480: "Temporarily Unavailable",
	481: "Call/Transaction Does Not Exist",
	482: "Loop Detected",
	483: "Too Many Hops",
	484: "Address Incomplete",
	485: "Ambiguous",
	486: "Busy Here",
	487: "Request Terminated",
	488: "Not Acceptable Here",
	489: "Bad Event",
	491: "Request Pending",
	493: "Undecipherable",

	500: "Server Internal Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Server Time-out",
	505: "Version Not Supported",
	513: "Message Too Large",

	600: "Busy Everywhere",
	603: "Decline",
	604: "Does Not Exist Anywhere",
	606: "Not Acceptable",
}

// StatusText returns the default reason phrase for the status code.
// Unknown codes yield a generic phrase of their class.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	switch code / 100 {
	case 1:
		return "Provisional"
	case 2:
		return "OK"
	case 3:
		return "Redirection"
	case 4:
		return "Request Failure"
	case 5:
		return "Server Failure"
	case 6:
		return "Global Failure"
	default:
		return "Unknown"
	}
}
