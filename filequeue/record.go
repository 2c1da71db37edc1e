package filequeue

//go:generate msgp -io=false -tests=false

// Record is the on-disk layout of one captured message.
type Record struct {
	Meta map[string]string `msg:"meta"`
	Data []byte            `msg:"data"`
}
