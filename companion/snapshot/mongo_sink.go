package snapshot

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCollection 快照文档集合名。
const MongoCollection = "sessions"

// DocumentWriter 写入一个文档。
type DocumentWriter interface {
	InsertOne(ctx context.Context, doc any) error
}

type collectionWriter struct {
	coll *mongo.Collection
}

func (w collectionWriter) InsertOne(ctx context.Context, doc any) error {
	_, err := w.coll.InsertOne(ctx, doc)
	return err
}

// MongoSink 把快照作为文档写入 MongoDB。
type MongoSink struct {
	writer DocumentWriter
}

// NewMongoSink 基于集合创建存储。
func NewMongoSink(coll *mongo.Collection) *MongoSink {
	return &MongoSink{writer: collectionWriter{coll: coll}}
}

// NewMongoSinkWithWriter 使用自定义写入器。
func NewMongoSinkWithWriter(w DocumentWriter) *MongoSink {
	return &MongoSink{writer: w}
}

func (s *MongoSink) Name() string { return "mongo" }

// Save 插入快照文档，_id 为快照 id。
func (s *MongoSink) Save(ctx context.Context, snap Snapshot) error {
	if err := s.writer.InsertOne(ctx, snap); err != nil {
		return fmt.Errorf("insert snapshot document: %w", err)
	}
	return nil
}

// ConnectMongo 连接 MongoDB 并返回快照集合。调用方负责 Disconnect。
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, client.Database(database).Collection(MongoCollection), nil
}
