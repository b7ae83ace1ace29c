package broker

// ErrorCategory says where a gateway error code has to be routed.
type ErrorCategory int

const (
	CategoryGeneric ErrorCategory = iota
	CategoryBenign
	CategoryDisconnect
	CategoryWarning
	CategoryOrder
	CategoryTicker
	CategoryContract
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryBenign:
		return "benign"
	case CategoryDisconnect:
		return "disconnect"
	case CategoryWarning:
		return "warning"
	case CategoryOrder:
		return "order"
	case CategoryTicker:
		return "ticker"
	case CategoryContract:
		return "contract"
	default:
		return "generic"
	}
}

const (
	warningCodeMin = 2100
	warningCodeMax = 2199
)

func codeSet(codes ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

var (
	// market data farm connection notices
	benignCodes = codeSet(2104, 2106, 2137)

	disconnectCodes = codeSet(504, 502, 1100, 1300, 2110)

	orderCodes = codeSet(
		103, 104, 105, 106, 107, 109, 110, 111, 113, 114, 115, 116, 117, 118, 119, 120,
		121, 122, 123, 124, 125, 126, 129, 131, 132, 133, 134, 135, 136, 137, 140, 141,
		144, 146, 147, 148, 151, 152, 153, 154, 155, 156, 157, 158, 159, 160, 161, 163,
		164, 166, 167, 168, 201, 202, 203, 303, 311, 312, 313, 314, 315, 325, 327, 328,
		329, 335, 336, 337, 338, 339, 340, 341, 342, 343, 347, 348, 349, 350, 351, 352,
		353, 355, 356, 358, 359, 360, 361, 362, 363, 364, 367, 368, 369, 370, 371, 372,
		373, 374, 375, 376, 377, 378, 379, 380, 382, 383, 387, 388, 389, 390, 391, 392,
		393, 394, 395, 396, 397, 398, 399, 400, 401, 402, 403, 404, 405, 406, 407, 408,
		409, 410, 411, 412, 413, 414, 415, 416, 417, 418, 419, 422, 423, 424, 425, 426,
		427, 428, 429, 433, 434, 435, 436, 437, 512, 515, 516, 517,
		10003, 10005, 10006, 10007, 10008, 10009, 10010, 10011, 10012, 10013, 10014,
		10016, 10017, 10018, 10019, 10020, 10021, 10022, 10023, 10024, 10025, 10026, 10027,
	)

	tickerCodes = codeSet(
		101, 102, 138, 300, 301, 302, 309, 310, 316, 317, 354, 365, 366, 385, 386, 420,
		510, 511, 519, 520, 524, 525, 529, 530,
	)

	contractCodes = codeSet(200)
)

// Classify maps a gateway error code to its routing category.
// Disconnect codes take precedence over the warning range (2110).
func Classify(code int) ErrorCategory {
	if _, ok := benignCodes[code]; ok {
		return CategoryBenign
	}
	if _, ok := disconnectCodes[code]; ok {
		return CategoryDisconnect
	}
	if code >= warningCodeMin && code <= warningCodeMax {
		return CategoryWarning
	}
	if _, ok := orderCodes[code]; ok {
		return CategoryOrder
	}
	if _, ok := tickerCodes[code]; ok {
		return CategoryTicker
	}
	if _, ok := contractCodes[code]; ok {
		return CategoryContract
	}
	return CategoryGeneric
}
