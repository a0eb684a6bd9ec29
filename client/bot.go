package client

import (
	"math"
	"time"

	"go.uber.org/zap"

	"arenasync/protocol"
)

// LogRenderer 无界面的渲染器：只把生成/移动/销毁写进日志
type LogRenderer struct {
	Log *zap.SugaredLogger
}

func (r LogRenderer) Spawn(id string, pos protocol.Vector3) {
	r.Log.Infow("spawn", "id", id, "pos", pos)
}

func (r LogRenderer) Move(id string, pos protocol.Vector3) {
	r.Log.Debugw("move", "id", id, "pos", pos)
}

func (r LogRenderer) Despawn(id string) {
	r.Log.Infow("despawn", "id", id)
}

// OrbitInput 机器人输入：在 XZ 平面上绕圈
type OrbitInput struct {
	Radius float64
	Period time.Duration
	Start  time.Time
	Now    func() time.Time
}

func (o OrbitInput) Sample() protocol.Vector3 {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	if o.Period <= 0 {
		return protocol.Vector3{o.Radius, 0, 0}
	}
	phase := 2 * math.Pi * float64(now().Sub(o.Start)) / float64(o.Period)
	return protocol.Vector3{o.Radius * math.Cos(phase), 0, o.Radius * math.Sin(phase)}
}
