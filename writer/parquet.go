package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"renkoflow/models"
)

// BrickRecord is the parquet row layout for one Renko brick.
type BrickRecord struct {
	Instrument  string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe   string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	BrickIndex  int32   `parquet:"name=brick_index, type=INT32"`
	Open        float64 `parquet:"name=open, type=DOUBLE"`
	Close       float64 `parquet:"name=close, type=DOUBLE"`
	Direction   string  `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceStart int64   `parquet:"name=source_start, type=INT64"`
	SourceEnd   int64   `parquet:"name=source_end, type=INT64"`
}

// StochRecord is the parquet row layout for one StochRSI point.
type StochRecord struct {
	Instrument string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe  string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	BrickIndex int32   `parquet:"name=brick_index, type=INT32"`
	RSI        float64 `parquet:"name=rsi, type=DOUBLE"`
	StochRSI   float64 `parquet:"name=stoch_rsi, type=DOUBLE"`
	K          float64 `parquet:"name=k, type=DOUBLE"`
	D          float64 `parquet:"name=d, type=DOUBLE"`
	Signal     string  `parquet:"name=signal, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface over a byte buffer
// so files can be built without touching disk.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) { return mfw.buffer.Read(b) }

func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }

func (mfw *memoryFileWriter) Close() error { return nil }

func (mfw *memoryFileWriter) Bytes() []byte { return mfw.buffer.Bytes() }

// brickParquet serializes a Renko series into a snappy-compressed parquet
// file.
func brickParquet(renko models.RenkoSeries) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(BrickRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, b := range renko.Bricks {
		record := BrickRecord{
			Instrument:  renko.Instrument,
			Timeframe:   renko.Timeframe,
			BrickIndex:  int32(b.Index),
			Open:        b.Open.InexactFloat64(),
			Close:       b.Close.InexactFloat64(),
			Direction:   b.Direction.String(),
			SourceStart: b.SourceStart.UnixMilli(),
			SourceEnd:   b.SourceEnd.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write brick record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

// stochParquet serializes StochRSI points into a snappy-compressed parquet
// file.
func stochParquet(instrument, timeframe string, points []models.StochRSIPoint) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(StochRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, p := range points {
		record := StochRecord{
			Instrument: instrument,
			Timeframe:  timeframe,
			BrickIndex: int32(p.Index),
			RSI:        p.RSI.InexactFloat64(),
			StochRSI:   p.StochRSI.InexactFloat64(),
			K:          p.K.InexactFloat64(),
			D:          p.D.InexactFloat64(),
			Signal:     string(p.Signal),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write stoch record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
