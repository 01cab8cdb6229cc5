package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type venueStat struct {
	messages int64
	bytes    int64
	parse    int64
}

var (
	errorCount     int64
	warnCount      int64
	broadcasts     int64
	broadcastBytes int64
	dropsRaw       int64
	dropsOut       int64
	dropsSub       int64
	venues         sync.Map // map[string]*venueStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnCount, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorCount, 1)
}

// ResetErrorCount zeroes the error counter. Used by tests.
func ResetErrorCount() {
	atomic.StoreInt64(&errorCount, 0)
}

// IncrementVenueRead counts one successfully received venue message.
func IncrementVenueRead(venue string, size int) {
	vs := venueStats(venue)
	atomic.AddInt64(&vs.messages, 1)
	atomic.AddInt64(&vs.bytes, int64(size))
}

// IncrementParseError counts a malformed payload that was dropped.
func IncrementParseError(venue string) {
	atomic.AddInt64(&venueStats(venue).parse, 1)
}

// IncrementBroadcast counts one fan-out to subscribers.
func IncrementBroadcast(size int) {
	atomic.AddInt64(&broadcasts, 1)
	atomic.AddInt64(&broadcastBytes, int64(size))
}

// IncrementRawDrop counts an update dropped on a full raw channel.
func IncrementRawDrop() { atomic.AddInt64(&dropsRaw, 1) }

// IncrementOutDrop counts a tick dropped on a full out channel.
func IncrementOutDrop() { atomic.AddInt64(&dropsOut, 1) }

// IncrementSubscriberDrop counts a message dropped on a slow subscriber.
func IncrementSubscriberDrop() { atomic.AddInt64(&dropsSub, 1) }

func venueStats(venue string) *venueStat {
	v, _ := venues.LoadOrStore(venue, &venueStat{})
	return v.(*venueStat)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and venue statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	venueData := map[string]map[string]int64{}
	venues.Range(func(k, v any) bool {
		name := k.(string)
		vs := v.(*venueStat)
		venueData[name] = map[string]int64{
			"messages":     atomic.LoadInt64(&vs.messages),
			"bytes":        atomic.LoadInt64(&vs.bytes),
			"parse_errors": atomic.LoadInt64(&vs.parse),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors":          atomic.LoadInt64(&errorCount),
		"warns":           atomic.LoadInt64(&warnCount),
		"broadcasts":      atomic.LoadInt64(&broadcasts),
		"broadcast_bytes": atomic.LoadInt64(&broadcastBytes),
		"drops_raw":       atomic.LoadInt64(&dropsRaw),
		"drops_out":       atomic.LoadInt64(&dropsOut),
		"drops_sub":       atomic.LoadInt64(&dropsSub),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"venues":          venueData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Mux-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-Broadcasts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["broadcasts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Mux-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range venueData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Mux-VenueMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Mux-VenueParseErrors"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["parse_errors"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
