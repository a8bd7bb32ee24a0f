package broker

import (
	"fmt"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// Broker key layout: colon-separated, namespaced by press line. These are
// pure string builders; no I/O happens here.

func ProgramIDKey(line pressmodel.Line) string {
	return fmt.Sprintf("press:programId:%s", line)
}

func RunningStatusKey(line pressmodel.Line) string {
	return fmt.Sprintf("press:runningStatus:%s", line)
}

func PartCounterKey(line pressmodel.Line) string {
	return fmt.Sprintf("press:partCounter:%s", line)
}

func RunningCameraKey(line pressmodel.Line) string {
	return fmt.Sprintf("shuttle:runningCamera:%s", line)
}

func MatrixKey(line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ip string) string {
	return fmt.Sprintf("shuttle:matrix:%s:%d:%d:%s", line, program, count, ip)
}

func MetaKey(line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ip string) string {
	return fmt.Sprintf("shuttle:meta:%s:%d:%d:%s", line, program, count, ip)
}

func PhotographedKey(line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter) string {
	return fmt.Sprintf("shuttle:photographed:%s:%d:%d", line, program, count)
}

func LightEnableKey(line pressmodel.Line) string {
	return fmt.Sprintf("shuttle:lightEnable:%s", line)
}
