package transport

import "errors"

// ErrNoUsableLayer 没有任何可用的传输层
var ErrNoUsableLayer = errors.New("transport: no usable layer")
