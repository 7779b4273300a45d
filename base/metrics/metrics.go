package metrics

const (
	ProducerChunksWrittenH  = "The total number of chunks written to the shared segment"
	ProducerChunksWrittenN  = "shmturn_producer_chunks_written"
	ProducerRecordsWrittenH = "The total number of records written to the shared segment"
	ProducerRecordsWrittenN = "shmturn_producer_records_written"
	ProducerTurnsAcquiredH  = "The total number of turns acquired by producers"
	ProducerTurnsAcquiredN  = "shmturn_producer_turns_acquired"
	ProducerCompletionsH    = "The total number of completion notifications sent by producers"
	ProducerCompletionsN    = "shmturn_producer_completions"

	ConsumerRecordsReadH  = "The total number of records read from the shared segment"
	ConsumerRecordsReadN  = "shmturn_consumer_records_read"
	ConsumerDecodeErrorsH = "The total number of records that could not be decoded"
	ConsumerDecodeErrorsN = "shmturn_consumer_decode_errors"

	SignalsReceivedH  = "The total number of notifications received"
	SignalsReceivedN  = "shmturn_signals_received"
	SignalsUnhandledH = "The total number of notifications ignored for lack of a latch"
	SignalsUnhandledN = "shmturn_signals_unhandled"
)
