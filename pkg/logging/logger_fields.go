package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component names the subsystem that produced the entry. JSONLogger lifts it
// to the top level of the entry.
func Component(name string) Field {
	return String("component", name)
}

// Domain fields

func Service(name string) Field {
	return String("service", name)
}

func Instance(uuid string) Field {
	return String("instance", uuid)
}

func Node(uuid string) Field {
	return String("node", uuid)
}

func Topic(topic string) Field {
	return String("topic", topic)
}

func CallbackID(id string) Field {
	return String("callback_id", id)
}

func Command(name string) Field {
	return String("cmd", name)
}

func RetCode(code int) Field {
	return Int("ret_code", code)
}

func Path(p string) Field {
	return String("path", p)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
