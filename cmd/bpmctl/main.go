// Command bpmctl is a diagnostics client for the broker: it can place
// a single typed (EXP_ZMQ) or raw (THSAFE_ZMQ) request, or drive the
// full acquisition sub-protocol against an acquisition-capable
// service, per spec §4.4/§4.5.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lnls-bpm/bpm-core/internal/config"
	"github.com/lnls-bpm/bpm-core/pkg/acquisition"
	"github.com/lnls-bpm/bpm-core/pkg/broker"
	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
	"github.com/lnls-bpm/bpm-core/pkg/message"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "call":
		runCall(os.Args[2:])
	case "raw":
		runRaw(os.Args[2:])
	case "fetch-curve":
		runFetchCurve(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bpmctl <call|raw|fetch-curve> [flags]")
	os.Exit(1)
}

func parseU32List(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("bad uint32 %q: %w", p, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func runCall(argv []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	brokerAddr := fs.String("broker", "127.0.0.1:9090", "broker tcp address")
	service := fs.String("service", "", "target service name")
	opcode := fs.Uint("opcode", 0, "dispatch opcode")
	args := fs.String("args", "", "comma-separated uint32 arguments")
	fs.Parse(argv)

	if *service == "" {
		log.Fatal("bpmctl call: -service is required")
	}
	argVals, err := parseU32List(*args)
	if err != nil {
		log.Fatalf("bpmctl call: %v", err)
	}
	frames := make([][]byte, len(argVals))
	for i, v := range argVals {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		frames[i] = b
	}

	cl, err := broker.Dial(*brokerAddr)
	if err != nil {
		log.Fatalf("bpmctl call: %v", err)
	}
	defer cl.Close()

	req := message.NewExpRequest(dispatch.Opcode(*opcode), frames...)
	resp, err := cl.Request(*service, req)
	if err != nil {
		log.Fatalf("bpmctl call: %v", err)
	}
	reply, err := message.ReplyFromMessage(resp)
	if err != nil {
		log.Fatalf("bpmctl call: malformed reply: %v", err)
	}
	fmt.Printf("err=%s payload=%s\n", reply.Err, hex.EncodeToString(reply.Payload))
}

var rawOpNames = map[string]message.RawOp{
	"open":       message.RawOpOpen,
	"release":    message.RawOpRelease,
	"read16":     message.RawOpRead16,
	"read32":     message.RawOpRead32,
	"read64":     message.RawOpRead64,
	"write16":    message.RawOpWrite16,
	"write32":    message.RawOpWrite32,
	"write64":    message.RawOpWrite64,
	"readblock":  message.RawOpReadBlock,
	"writeblock": message.RawOpWriteBlock,
}

func runRaw(argv []string) {
	fs := flag.NewFlagSet("raw", flag.ExitOnError)
	brokerAddr := fs.String("broker", "127.0.0.1:9090", "broker tcp address")
	service := fs.String("service", "", "target service name")
	op := fs.String("op", "read32", "raw operation: open, release, read16/32/64, write16/32/64, readblock, writeblock")
	bar := fs.Uint("bar", uint(llio.Bar0), "BAR selector: 0, 2 or 4")
	intraBar := fs.Uint("offset", 0, "intra-BAR byte offset")
	value := fs.Uint64("value", 0, "value for write16/32/64")
	size := fs.Uint("size", 0, "byte count for readblock")
	fs.Parse(argv)

	if *service == "" {
		log.Fatal("bpmctl raw: -service is required")
	}
	rawOp, ok := rawOpNames[*op]
	if !ok {
		log.Fatalf("bpmctl raw: unknown op %q", *op)
	}
	offs := llio.PackOffset(uint8(*bar), uint32(*intraBar))

	var payload []byte
	switch rawOp {
	case message.RawOpWrite16:
		payload = make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, uint16(*value))
	case message.RawOpWrite32:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, uint32(*value))
	case message.RawOpWrite64:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, *value)
	case message.RawOpReadBlock:
		payload = make([]byte, *size)
	}

	cl, err := broker.Dial(*brokerAddr)
	if err != nil {
		log.Fatalf("bpmctl raw: %v", err)
	}
	defer cl.Close()

	req := message.NewRawRequest(rawOp, offs, payload)
	resp, err := cl.Request(*service, req)
	if err != nil {
		log.Fatalf("bpmctl raw: %v", err)
	}
	reply, err := message.ReplyFromMessage(resp)
	if err != nil {
		log.Fatalf("bpmctl raw: malformed reply: %v", err)
	}
	fmt.Printf("err=%s payload=%s\n", reply.Err, hex.EncodeToString(reply.Payload))
}

func runFetchCurve(argv []string) {
	fs := flag.NewFlagSet("fetch-curve", flag.ExitOnError)
	brokerAddr := fs.String("broker", "127.0.0.1:9090", "broker tcp address")
	service := fs.String("service", "", "acquisition-capable service name")
	channel := fs.Uint("channel", 0, "channel to acquire")
	numSamples := fs.Uint("samples", 0, "number of samples to acquire")
	sampleSize := fs.Uint("sample-size", 4, "bytes per sample")
	out := fs.String("out", "", "output file for the fetched curve (stdout if empty)")
	dataAcquireOp := fs.Uint("op-data-acquire", 1, "data_acquire opcode")
	checkOp := fs.Uint("op-check-data-acquire", 2, "check_data_acquire opcode")
	blockOp := fs.Uint("op-get-data-block", 3, "get_data_block opcode")
	poll := fs.Duration("poll", config.DefaultClientTiming.PollInterval, "poll backoff interval")
	deadline := fs.Duration("deadline", config.DefaultClientTiming.Deadline, "overall deadline")
	fs.Parse(argv)

	if *service == "" {
		log.Fatal("bpmctl fetch-curve: -service is required")
	}

	cl, err := broker.Dial(*brokerAddr)
	if err != nil {
		log.Fatalf("bpmctl fetch-curve: %v", err)
	}
	defer cl.Close()

	req := acquisition.AdaptRaw(func(body *message.Message) (*message.Message, error) {
		return cl.Request(*service, body)
	})

	opcodes := acquisition.Opcodes{
		DataAcquire:      dispatch.Opcode(*dataAcquireOp),
		CheckDataAcquire: dispatch.Opcode(*checkOp),
		GetDataBlock:     dispatch.Opcode(*blockOp),
	}

	total := uint64(*numSamples) * uint64(*sampleSize)
	buf := make([]byte, total)

	n, err := acquisition.FetchCurve(req, opcodes, uint32(*channel), uint32(*numSamples), int(*sampleSize), buf, *poll, *deadline, nil)
	if err != nil {
		log.Fatalf("bpmctl fetch-curve: %v", err)
	}

	if *out == "" {
		os.Stdout.Write(buf[:n])
		return
	}
	if err := os.WriteFile(*out, buf[:n], 0o644); err != nil {
		log.Fatalf("bpmctl fetch-curve: write %s: %v", *out, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", n, *out)
}
