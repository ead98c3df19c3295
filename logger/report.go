package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsScanner int64
	errorsStore   int64
	warnsScanner  int64
	warnsStore    int64
	scansDone     int64
	quotesStored  int64
	alertsSent    int64
	apiRetries    int64
	turnTimeouts  int64
	channels      sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "scan") || strings.Contains(component, "worker") {
		atomic.AddInt64(&warnsScanner, 1)
	} else if strings.Contains(component, "store") {
		atomic.AddInt64(&warnsStore, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "scan") || strings.Contains(component, "worker") {
		atomic.AddInt64(&errorsScanner, 1)
	} else if strings.Contains(component, "store") {
		atomic.AddInt64(&errorsStore, 1)
	}
}

// IncrementScan records one completed market scan and the number of option
// quotes it observed.
func IncrementScan(market string, quotes int) {
	atomic.AddInt64(&scansDone, 1)
	recordChannel("scan_"+strings.ToLower(market), quotes)
}

// IncrementQuotesStored records quotes persisted to the database.
func IncrementQuotesStored(n int) {
	atomic.AddInt64(&quotesStored, int64(n))
}

// IncrementAlertsSent records delivered big-trade alerts.
func IncrementAlertsSent(n int) {
	atomic.AddInt64(&alertsSent, int64(n))
}

// IncrementAPIRetry records one retried gateway call.
func IncrementAPIRetry() {
	atomic.AddInt64(&apiRetries, 1)
}

// IncrementTurnTimeout records one scan skipped because the market never got
// its turn.
func IncrementTurnTimeout() {
	atomic.AddInt64(&turnTimeouts, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
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

// StartReport begins periodic logging of system and monitoring statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
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
		"errors_scanner": atomic.LoadInt64(&errorsScanner),
		"errors_store":   atomic.LoadInt64(&errorsStore),
		"warns_scanner":  atomic.LoadInt64(&warnsScanner),
		"warns_store":    atomic.LoadInt64(&warnsStore),
		"scans_done":     atomic.LoadInt64(&scansDone),
		"quotes_stored":  atomic.LoadInt64(&quotesStored),
		"alerts_sent":    atomic.LoadInt64(&alertsSent),
		"api_retries":    atomic.LoadInt64(&apiRetries),
		"turn_timeouts":  atomic.LoadInt64(&turnTimeouts),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ErrorsScanner"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_scanner"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ErrorsStore"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_store"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-WarnsScanner"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_scanner"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-WarnsStore"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_store"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ScansDone"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["scans_done"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-QuotesStored"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quotes_stored"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-AlertsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["alerts_sent"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-APIRetries"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["api_retries"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-TurnTimeouts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["turn_timeouts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("OptionFlow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("OptionFlow-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
